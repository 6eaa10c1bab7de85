package model

import "time"

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant is the addressable target of an announcement. Tenants without a
// contact email are not deliverable and never become recipients.
type Tenant struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Status       TenantStatus `json:"status"`
	ContactName  string       `json:"contact_name"`
	ContactEmail string       `json:"contact_email"`
	Plan         string       `json:"plan"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (Tenant) TableName() string { return "tenants" }

// Addressable reports whether the tenant has a usable contact channel.
func (t *Tenant) Addressable() bool {
	return t.ContactEmail != ""
}
