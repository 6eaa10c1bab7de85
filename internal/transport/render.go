package transport

import (
	"strings"

	"github.com/tenantops/announcer/internal/model"
)

// Render interpolates tenant fields into the announcement body. Placeholders
// with no value render as "<unknown>" rather than disappearing, so a broken
// tenant record is visible in the delivered message instead of silently
// producing odd copy.
func Render(body string, t *model.Tenant) string {
	out := body
	out = replace(out, "{tenant_name}", t.Name)
	out = replace(out, "{contact_name}", t.ContactName)
	out = replace(out, "{plan}", t.Plan)
	return out
}

func replace(template, placeholder, value string) string {
	if value == "" {
		value = "<unknown>"
	}
	return strings.ReplaceAll(template, placeholder, value)
}
