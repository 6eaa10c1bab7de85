package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/queue"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/prom"
)

type AnnouncementStore interface {
	Get(ctx context.Context, id int64) (*model.Announcement, error)
	TransitionStatus(ctx context.Context, id int64, from, to model.AnnouncementStatus) (bool, error)
	MarkFailed(ctx context.Context, id int64) (bool, error)
	SetTotalRecipients(ctx context.Context, id int64, n int) error
	IncrementSuccessful(ctx context.Context, id int64) error
	IncrementFailed(ctx context.Context, id int64) error
	Finalize(ctx context.Context, id int64, to model.AnnouncementStatus, sentAt time.Time) (bool, error)
}

type RecipientStore interface {
	CreateBatch(ctx context.Context, recipients []*model.Recipient) error
	Get(ctx context.Context, id int64) (*model.Recipient, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	RecordError(ctx context.Context, id int64, errMsg string) error
	MarkFailedIfPending(ctx context.Context, id int64, fallbackErr string) (bool, error)
	CountPending(ctx context.Context, announcementID int64) (int64, error)
}

type TargetResolver interface {
	Resolve(ctx context.Context, a *model.Announcement) ([]*model.Tenant, error)
}

type FanoutConfig struct {
	JitterMin         time.Duration
	JitterMax         time.Duration
	WatchInitialDelay time.Duration
}

// FanOutCoordinator turns one draft announcement into its per-recipient
// delivery jobs. It runs as a single-attempt job: a duplicate invocation is
// absorbed by the draft->sending fence, and an unhandled failure after the
// fence is fatal for the whole announcement because a half-created recipient
// set is not safely resumable.
type FanOutCoordinator struct {
	announcements AnnouncementStore
	recipients    RecipientStore
	resolver      TargetResolver
	deliverQueue  Publisher
	watchQueue    Publisher
	cfg           FanoutConfig
}

func NewFanOutCoordinator(
	announcements AnnouncementStore,
	recipients RecipientStore,
	resolver TargetResolver,
	deliverQueue, watchQueue Publisher,
	cfg FanoutConfig,
) *FanOutCoordinator {
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = time.Second
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + 9*time.Second
	}
	if cfg.WatchInitialDelay <= 0 {
		cfg.WatchInitialDelay = 30 * time.Second
	}
	return &FanOutCoordinator{
		announcements: announcements,
		recipients:    recipients,
		resolver:      resolver,
		deliverQueue:  deliverQueue,
		watchQueue:    watchQueue,
		cfg:           cfg,
	}
}

func (c *FanOutCoordinator) GetType() string { return "fanout" }

// Process implements the fan-out job. Returning nil ACKs the job; returning
// an error trips the single-attempt budget and HandleExhausted marks the
// announcement failed.
func (c *FanOutCoordinator) Process(ctx context.Context, msg *queue.Message) error {
	var job FanoutJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("fanout: malformed job payload", "error", err)
		return nil // nothing to retry or fail
	}
	return c.Run(ctx, job.AnnouncementID)
}

// Run is the sole externally-triggerable entry point of the pipeline.
func (c *FanOutCoordinator) Run(ctx context.Context, announcementID int64) error {
	a, err := c.announcements.Get(ctx, announcementID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("fanout: announcement not found, nothing to do", "announcement_id", announcementID)
			return nil
		}
		return fmt.Errorf("fanout: load announcement: %w", err)
	}

	if a.Status != model.AnnouncementStatusDraft {
		logger.Warn("fanout: announcement not in a sendable state, skipping",
			"announcement_id", announcementID, "status", a.Status)
		prom.ObserveFanoutRun("skipped")
		return nil
	}

	// The idempotency fence. After this commits, a concurrent duplicate run
	// loses the guarded update and exits above.
	ok, err := c.announcements.TransitionStatus(ctx, announcementID,
		model.AnnouncementStatusDraft, model.AnnouncementStatusSending)
	if err != nil {
		return fmt.Errorf("fanout: transition to sending: %w", err)
	}
	if !ok {
		logger.Warn("fanout: lost the sending fence to a concurrent run", "announcement_id", announcementID)
		prom.ObserveFanoutRun("skipped")
		return nil
	}

	targets, err := c.resolver.Resolve(ctx, a)
	if err != nil {
		return fmt.Errorf("fanout: resolve targets: %w", err)
	}

	recipients := make([]*model.Recipient, len(targets))
	for i, t := range targets {
		recipients[i] = &model.Recipient{
			AnnouncementID: announcementID,
			TenantID:       t.ID,
			Address:        t.ContactEmail,
			DeliveryStatus: model.DeliveryStatusPending,
		}
	}

	if err := c.recipients.CreateBatch(ctx, recipients); err != nil {
		return fmt.Errorf("fanout: create recipients: %w", err)
	}

	// total_recipients reflects the rows actually created, not the raw
	// resolver output.
	if err := c.announcements.SetTotalRecipients(ctx, announcementID, len(recipients)); err != nil {
		return fmt.Errorf("fanout: set total recipients: %w", err)
	}

	if len(recipients) == 0 {
		// Nothing to deliver and nothing to watch for.
		now := time.Now()
		if _, err := c.announcements.Finalize(ctx, announcementID, model.AnnouncementStatusSent, now); err != nil {
			return fmt.Errorf("fanout: finalize empty announcement: %w", err)
		}
		logger.Info("fanout: no deliverable recipients, finalized as sent", "announcement_id", announcementID)
		prom.ObserveFanoutRun("empty")
		prom.ObserveFinalized(string(model.AnnouncementStatusSent))
		return nil
	}

	// Jitter spreads the first delivery wave so the transport and its rate
	// limits never see a synchronized burst. Not a correctness mechanism.
	for _, rc := range recipients {
		err := c.deliverQueue.PublishJSONDelayed(ctx, DeliveryJob{
			AnnouncementID: announcementID,
			RecipientID:    rc.ID,
		}, nil, c.jitter())
		if err != nil {
			return fmt.Errorf("fanout: schedule delivery for recipient %d: %w", rc.ID, err)
		}
	}

	// First poll waits out the jitter window so the initial wave has a
	// chance to finish before anyone looks.
	err = c.watchQueue.PublishJSONDelayed(ctx, WatchJob{
		AnnouncementID: announcementID,
		StartedAt:      time.Now(),
	}, nil, c.cfg.WatchInitialDelay)
	if err != nil {
		return fmt.Errorf("fanout: schedule completion watch: %w", err)
	}

	logger.Info("fanout: scheduled deliveries",
		"announcement_id", announcementID, "recipients", len(recipients))
	prom.ObserveFanoutRun("ok")
	prom.ObserveFanoutSize(len(recipients))
	return nil
}

// HandleExhausted is the fan-out queue's failure hook. Fan-out is configured
// for one attempt, so any processing error lands here and takes the whole
// announcement to the terminal failed status.
func (c *FanOutCoordinator) HandleExhausted(ctx context.Context, msg *queue.Message) {
	var job FanoutJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("fanout: malformed job payload in exhaustion hook", "error", err)
		return
	}

	ok, err := c.announcements.MarkFailed(ctx, job.AnnouncementID)
	if err != nil {
		logger.Error("fanout: failed to mark announcement failed",
			"announcement_id", job.AnnouncementID, "error", err)
		return
	}
	if ok {
		logger.Error("fanout: announcement marked failed after fatal fan-out error",
			"announcement_id", job.AnnouncementID)
		prom.ObserveFanoutRun("failed")
		prom.ObserveFinalized(string(model.AnnouncementStatusFailed))
	}
}

func (c *FanOutCoordinator) jitter() time.Duration {
	spread := c.cfg.JitterMax - c.cfg.JitterMin
	return c.cfg.JitterMin + time.Duration(rand.Int63n(int64(spread)))
}
