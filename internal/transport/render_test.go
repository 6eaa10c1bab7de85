package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenantops/announcer/internal/model"
)

func TestRender(t *testing.T) {
	tenant := &model.Tenant{
		Name:        "Acme",
		ContactName: "Ada",
		Plan:        "pro",
	}

	tests := []struct {
		name   string
		body   string
		tenant *model.Tenant
		want   string
	}{
		{
			name:   "no placeholders",
			body:   "Scheduled maintenance tonight.",
			tenant: tenant,
			want:   "Scheduled maintenance tonight.",
		},
		{
			name:   "all placeholders",
			body:   "Hello {contact_name}, {tenant_name} is on the {plan} plan.",
			tenant: tenant,
			want:   "Hello Ada, Acme is on the pro plan.",
		},
		{
			name:   "repeated placeholder",
			body:   "{tenant_name}: welcome, {tenant_name}!",
			tenant: tenant,
			want:   "Acme: welcome, Acme!",
		},
		{
			name:   "missing values render as unknown",
			body:   "Hi {contact_name}, your plan is {plan}.",
			tenant: &model.Tenant{Name: "Globex"},
			want:   "Hi <unknown>, your plan is <unknown>.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.body, tt.tenant))
		})
	}
}
