package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/queue"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/internal/transport"
	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/prom"
)

type TenantStore interface {
	Get(ctx context.Context, id int64) (*model.Tenant, error)
}

// DeliveryProcessor executes one delivery job: load the recipient, render,
// send, terminalize, count. A job owns its recipient row for the whole
// attempt chain; the only contended writes are the announcement counters,
// which are relative increments at the store.
//
// Only transport errors leave this handler; they drive the queue's bounded
// retry. Every not-found condition resolves to a logged no-op or a terminal
// recipient write and ACKs.
type DeliveryProcessor struct {
	announcements AnnouncementStore
	recipients    RecipientStore
	tenants       TenantStore
	transport     transport.Transport
}

func NewDeliveryProcessor(
	announcements AnnouncementStore,
	recipients RecipientStore,
	tenants TenantStore,
	tr transport.Transport,
) *DeliveryProcessor {
	return &DeliveryProcessor{
		announcements: announcements,
		recipients:    recipients,
		tenants:       tenants,
		transport:     tr,
	}
}

func (p *DeliveryProcessor) GetType() string { return "delivery" }

func (p *DeliveryProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job DeliveryJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("delivery: malformed job payload", "error", err)
		return nil
	}

	rec, err := p.recipients.Get(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("delivery: recipient not found, nothing to do", "recipient_id", job.RecipientID)
			return nil
		}
		return fmt.Errorf("delivery: load recipient: %w", err)
	}

	// At-least-once redelivery of an already-terminalized job. The counters
	// were bumped by whoever terminalized the row; counting again would
	// break the counter invariant.
	if rec.DeliveryStatus.Terminal() {
		logger.Debug("delivery: recipient already terminal, skipping",
			"recipient_id", rec.ID, "status", rec.DeliveryStatus)
		return nil
	}

	a, err := p.announcements.Get(ctx, job.AnnouncementID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The parent is gone; there is no counter left to increment.
			logger.Warn("delivery: announcement not found, failing recipient",
				"recipient_id", rec.ID, "announcement_id", job.AnnouncementID)
			if err := p.recipients.MarkFailed(ctx, rec.ID, "announcement not found"); err != nil {
				return fmt.Errorf("delivery: mark recipient failed: %w", err)
			}
			return nil
		}
		return fmt.Errorf("delivery: load announcement: %w", err)
	}

	tenant, err := p.tenants.Get(ctx, rec.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("delivery: tenant not found, failing recipient",
				"recipient_id", rec.ID, "tenant_id", rec.TenantID)
			if err := p.recipients.MarkFailed(ctx, rec.ID, "tenant not found"); err != nil {
				return fmt.Errorf("delivery: mark recipient failed: %w", err)
			}
			if err := p.announcements.IncrementFailed(ctx, a.ID); err != nil {
				logger.Error("delivery: failed to increment failed_count",
					"announcement_id", a.ID, "error", err)
			}
			prom.ObserveDelivery("failed")
			return nil
		}
		return fmt.Errorf("delivery: load tenant: %w", err)
	}

	start := time.Now()
	sendErr := p.transport.Send(ctx, &transport.SendRequest{
		MessageID: strconv.FormatInt(rec.ID, 10),
		Address:   rec.Address,
		Subject:   a.Title,
		Body:      transport.Render(a.Body, tenant),
	})
	prom.ObserveDeliveryDuration(time.Since(start).Seconds())

	if sendErr != nil {
		// Keep the row pending so the watcher keeps waiting while the
		// attempt budget lasts; terminal accounting happens exactly once,
		// in HandleExhausted.
		if err := p.recipients.RecordError(ctx, rec.ID, sendErr.Error()); err != nil {
			logger.Error("delivery: failed to record error",
				"recipient_id", rec.ID, "error", err)
		}
		logger.Warn("delivery: send failed, will retry",
			"recipient_id", rec.ID, "attempt", msg.Attempts, "error", sendErr)
		prom.ObserveDelivery("retry")
		return sendErr
	}

	if err := p.recipients.MarkSent(ctx, rec.ID, time.Now()); err != nil {
		return fmt.Errorf("delivery: mark recipient sent: %w", err)
	}
	if err := p.announcements.IncrementSuccessful(ctx, a.ID); err != nil {
		logger.Error("delivery: failed to increment successful_count",
			"announcement_id", a.ID, "error", err)
	}

	logger.Info("delivery: sent", "recipient_id", rec.ID,
		"announcement_id", a.ID, "address", rec.Address)
	prom.ObserveDelivery("sent")
	return nil
}

// HandleExhausted fires when the attempt budget is spent. The guarded
// pending->failed upgrade makes it race-safe against any concurrent
// terminalizing writer: whoever wins the update owns the single
// failed_count increment.
func (p *DeliveryProcessor) HandleExhausted(ctx context.Context, msg *queue.Message) {
	var job DeliveryJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("delivery: malformed job payload in exhaustion hook", "error", err)
		return
	}

	won, err := p.recipients.MarkFailedIfPending(ctx, job.RecipientID, "delivery attempts exhausted")
	if err != nil {
		logger.Error("delivery: exhaustion hook failed to mark recipient",
			"recipient_id", job.RecipientID, "error", err)
		return
	}
	if !won {
		// Already terminal; someone else did the accounting.
		return
	}

	if err := p.announcements.IncrementFailed(ctx, job.AnnouncementID); err != nil {
		logger.Error("delivery: exhaustion hook failed to increment failed_count",
			"announcement_id", job.AnnouncementID, "error", err)
	}
	logger.Warn("delivery: recipient failed after exhausting attempts",
		"recipient_id", job.RecipientID, "announcement_id", job.AnnouncementID)
	prom.ObserveDelivery("failed")
}
