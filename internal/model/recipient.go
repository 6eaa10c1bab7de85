package model

import "time"

// DeliveryStatus is the per-recipient delivery lifecycle. Pending is the only
// non-terminal value; once sent or failed a row is never mutated again, except
// that the exhaustion handler may upgrade pending -> failed through a guarded
// update.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

// Recipient is one announcement x tenant delivery record. Recipients are
// created in bulk by the fan-out and have no lifecycle outside their parent
// announcement.
type Recipient struct {
	ID             int64          `json:"id"`
	AnnouncementID int64          `json:"announcement_id"`
	TenantID       int64          `json:"tenant_id"`
	Address        string         `json:"address"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (Recipient) TableName() string { return "recipients" }
