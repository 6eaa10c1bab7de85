package dispatch

import (
	"context"
	"time"
)

// Queue names for the three job types. Each carries its own, deliberately
// different retry policy: fan-out runs once, deliveries get a bounded number
// of attempts, the watcher reschedules itself indefinitely.
const (
	QueueFanout  = "announce:fanout"
	QueueDeliver = "announce:deliver"
	QueueWatch   = "announce:watch"
)

// FanoutJob triggers the fan-out of one announcement. This is the only job
// enqueued by an external actor.
type FanoutJob struct {
	AnnouncementID int64 `json:"announcement_id"`
}

// DeliveryJob sends one announcement to one recipient.
type DeliveryJob struct {
	AnnouncementID int64 `json:"announcement_id"`
	RecipientID    int64 `json:"recipient_id"`
}

// WatchJob is the completion watcher's self-rescheduling poll. StartedAt is
// stamped once at fan-out time and carried through every reschedule so the
// optional max-elapsed cutoff can be evaluated without extra state.
type WatchJob struct {
	AnnouncementID int64     `json:"announcement_id"`
	StartedAt      time.Time `json:"started_at"`
	Polls          int       `json:"polls"`
}

// Publisher is the slice of the queue the job handlers schedule through.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
	PublishJSONDelayed(ctx context.Context, data interface{}, metadata map[string]string, delay time.Duration) error
}
