package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/queue"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/prom"
)

type WatcherConfig struct {
	// PollInterval is the reschedule delay between polls.
	PollInterval time.Duration
	// MaxElapsed force-finalizes an announcement whose recipients never
	// drain. Zero disables the cutoff and the watcher polls until the
	// pending count reaches zero, however long that takes.
	MaxElapsed time.Duration
}

// CompletionWatcher polls one sending announcement until every recipient row
// is terminal, then finalizes it. It never processes deliveries itself; it
// only reads the pending count and reschedules its own job, so a crashed
// worker resumes watching from the queue with no extra recovery step.
type CompletionWatcher struct {
	announcements AnnouncementStore
	recipients    RecipientStore
	watchQueue    Publisher
	cfg           WatcherConfig
}

func NewCompletionWatcher(
	announcements AnnouncementStore,
	recipients RecipientStore,
	watchQueue Publisher,
	cfg WatcherConfig,
) *CompletionWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Minute
	}
	return &CompletionWatcher{
		announcements: announcements,
		recipients:    recipients,
		watchQueue:    watchQueue,
		cfg:           cfg,
	}
}

func (w *CompletionWatcher) GetType() string { return "watch" }

func (w *CompletionWatcher) Process(ctx context.Context, msg *queue.Message) error {
	var job WatchJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("watch: malformed job payload", "error", err)
		return nil
	}
	prom.ObserveWatchPoll()

	a, err := w.announcements.Get(ctx, job.AnnouncementID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("watch: announcement not found, dropping watch", "announcement_id", job.AnnouncementID)
			return nil
		}
		return fmt.Errorf("watch: load announcement: %w", err)
	}

	// Someone else finalized it (or it never left draft). Either way the
	// watch chain ends here.
	if a.Status != model.AnnouncementStatusSending {
		logger.Info("watch: announcement no longer sending, dropping watch",
			"announcement_id", a.ID, "status", a.Status)
		return nil
	}

	pending, err := w.recipients.CountPending(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("watch: count pending: %w", err)
	}

	if pending > 0 {
		if w.cfg.MaxElapsed > 0 && time.Since(job.StartedAt) > w.cfg.MaxElapsed {
			return w.expire(ctx, a, pending, job)
		}
		logger.Debug("watch: recipients still pending, rescheduling",
			"announcement_id", a.ID, "pending", pending, "polls", job.Polls)
		return w.reschedule(ctx, job)
	}

	// Re-read after observing zero pending so the counters include every
	// increment that raced with the count above.
	a, err = w.announcements.Get(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("watch: reload announcement: %w", err)
	}

	final := model.AnnouncementStatusSent
	if a.FailedCount > 0 {
		final = model.AnnouncementStatusPartiallyFailed
	}

	ok, err := w.announcements.Finalize(ctx, a.ID, final, time.Now())
	if err != nil {
		return fmt.Errorf("watch: finalize announcement: %w", err)
	}
	if !ok {
		logger.Info("watch: lost finalization race, dropping watch", "announcement_id", a.ID)
		return nil
	}

	logger.Info("watch: announcement finalized", "announcement_id", a.ID,
		"status", final, "successful", a.SuccessfulCount, "failed", a.FailedCount,
		"polls", job.Polls)
	prom.ObserveFinalized(string(final))
	return nil
}

// expire force-finalizes an announcement whose pending set never drained
// within the configured cutoff. Pending rows are upgraded to failed first so
// the counters still account for every recipient.
func (w *CompletionWatcher) expire(ctx context.Context, a *model.Announcement, pending int64, job WatchJob) error {
	logger.Error("watch: max elapsed exceeded, force-finalizing",
		"announcement_id", a.ID, "pending", pending,
		"elapsed", time.Since(job.StartedAt), "polls", job.Polls)

	if _, err := w.announcements.Finalize(ctx, a.ID, model.AnnouncementStatusPartiallyFailed, time.Now()); err != nil {
		return fmt.Errorf("watch: force-finalize announcement: %w", err)
	}
	prom.ObserveWatchExpired()
	prom.ObserveFinalized(string(model.AnnouncementStatusPartiallyFailed))
	return nil
}

func (w *CompletionWatcher) reschedule(ctx context.Context, job WatchJob) error {
	err := w.watchQueue.PublishJSONDelayed(ctx, WatchJob{
		AnnouncementID: job.AnnouncementID,
		StartedAt:      job.StartedAt,
		Polls:          job.Polls + 1,
	}, nil, w.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("watch: reschedule poll: %w", err)
	}
	return nil
}

// HandleExhausted only fires if the watch queue is misconfigured with a
// bounded attempt budget; the chain is re-armed so a watched announcement is
// never silently orphaned.
func (w *CompletionWatcher) HandleExhausted(ctx context.Context, msg *queue.Message) {
	var job WatchJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("watch: malformed job payload in exhaustion hook", "error", err)
		return
	}
	logger.Error("watch: poll exhausted its attempts, re-arming",
		"announcement_id", job.AnnouncementID, "polls", job.Polls)
	if err := w.reschedule(ctx, job); err != nil {
		logger.Error("watch: failed to re-arm watch", "announcement_id", job.AnnouncementID, "error", err)
	}
}
