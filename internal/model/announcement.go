package model

import (
	"errors"
	"time"
)

// AnnouncementStatus is the lifecycle state of an announcement's fan-out.
//
// Transitions are strictly forward:
//
//	draft -> sending -> {sent, partially_failed, failed}
//
// All three right-hand states are terminal. "failed" is reached only via the
// fan-out fatal path; the completion watcher finalizes to "sent" or
// "partially_failed" only.
type AnnouncementStatus string

const (
	AnnouncementStatusDraft           AnnouncementStatus = "draft"
	AnnouncementStatusSending         AnnouncementStatus = "sending"
	AnnouncementStatusSent            AnnouncementStatus = "sent"
	AnnouncementStatusPartiallyFailed AnnouncementStatus = "partially_failed"
	AnnouncementStatusFailed          AnnouncementStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s AnnouncementStatus) Terminal() bool {
	switch s {
	case AnnouncementStatusSent, AnnouncementStatusPartiallyFailed, AnnouncementStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal forward move. Write sites
// use this as a defensive check on top of their guarded UPDATEs.
func (s AnnouncementStatus) CanTransition(to AnnouncementStatus) bool {
	switch s {
	case AnnouncementStatusDraft:
		return to == AnnouncementStatusSending || to == AnnouncementStatusFailed
	case AnnouncementStatusSending:
		return to.Terminal()
	}
	return false
}

// Audience selects which tenants an announcement targets. Closed enum;
// the resolver switches exhaustively over it.
type Audience string

const (
	AudienceAll       Audience = "all"
	AudienceActive    Audience = "active"
	AudienceTrial     Audience = "trial"
	AudienceSuspended Audience = "suspended"
	AudienceSpecific  Audience = "specific"
)

func (a Audience) Valid() bool {
	switch a {
	case AudienceAll, AudienceActive, AudienceTrial, AudienceSuspended, AudienceSpecific:
		return true
	}
	return false
}

type Announcement struct {
	ID                int64              `json:"id"`
	Title             string             `json:"title"`
	Body              string             `json:"body"`
	Audience          Audience           `json:"audience"`
	SpecificTenantIDs []int64            `json:"specific_tenant_ids,omitempty"`
	Status            AnnouncementStatus `json:"status"`
	TotalRecipients   int                `json:"total_recipients"`
	SuccessfulCount   int                `json:"successful_count"`
	FailedCount       int                `json:"failed_count"`
	SentAt            *time.Time         `json:"sent_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (Announcement) TableName() string { return "announcements" }

// CheckCounters asserts the counter invariant: once total_recipients is set,
// successful + failed never exceeds it.
func (a *Announcement) CheckCounters() error {
	if a.TotalRecipients > 0 && a.SuccessfulCount+a.FailedCount > a.TotalRecipients {
		return errors.New("announcement counters exceed total_recipients")
	}
	return nil
}

// Complete reports whether every scheduled delivery has reached a terminal
// outcome.
func (a *Announcement) Complete() bool {
	return a.SuccessfulCount+a.FailedCount >= a.TotalRecipients
}
