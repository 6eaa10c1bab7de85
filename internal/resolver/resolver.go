// Package resolver turns an announcement's audience selector into the
// concrete list of deliverable tenants.
package resolver

import (
	"context"
	"fmt"

	"github.com/tenantops/announcer/internal/model"
)

type TenantRepository interface {
	ListAll(ctx context.Context) ([]*model.Tenant, error)
	ListByStatus(ctx context.Context, status model.TenantStatus) ([]*model.Tenant, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*model.Tenant, error)
}

// RecipientResolver is a pure read: it has no side effects and is safe to
// call repeatedly, though the fan-out calls it exactly once per announcement.
type RecipientResolver struct {
	tenants TenantRepository
}

func New(tenants TenantRepository) *RecipientResolver {
	return &RecipientResolver{tenants: tenants}
}

// Resolve returns the deliverable targets for the announcement's audience.
// Tenants without a usable contact address are filtered out here, before
// they can be counted or scheduled. For the specific selector, ids with no
// matching tenant are silently omitted.
func (r *RecipientResolver) Resolve(ctx context.Context, a *model.Announcement) ([]*model.Tenant, error) {
	var (
		targets []*model.Tenant
		err     error
	)

	switch a.Audience {
	case model.AudienceAll:
		targets, err = r.tenants.ListAll(ctx)
	case model.AudienceActive:
		targets, err = r.tenants.ListByStatus(ctx, model.TenantStatusActive)
	case model.AudienceTrial:
		targets, err = r.tenants.ListByStatus(ctx, model.TenantStatusTrial)
	case model.AudienceSuspended:
		targets, err = r.tenants.ListByStatus(ctx, model.TenantStatusSuspended)
	case model.AudienceSpecific:
		targets, err = r.tenants.ListByIDs(ctx, a.SpecificTenantIDs)
	default:
		return nil, fmt.Errorf("unknown audience selector: %q", a.Audience)
	}
	if err != nil {
		return nil, err
	}

	deliverable := targets[:0]
	for _, t := range targets {
		if t.Addressable() {
			deliverable = append(deliverable, t)
		}
	}
	return deliverable, nil
}
