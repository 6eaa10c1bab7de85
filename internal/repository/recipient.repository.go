package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/pkg/pg"
)

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{db}
}

// CreateBatch inserts the fan-out's recipient rows and fills in the
// generated ids. Runs once per announcement, immediately before the delivery
// jobs are scheduled.
func (r *RecipientRepository) CreateBatch(ctx context.Context, recipients []*model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	entities := make([]*RecipientEntity, len(recipients))
	for i, rc := range recipients {
		entities[i] = toRecipientEntity(rc)
	}

	if err := r.Write(ctx).CreateInBatches(entities, 500).Error; err != nil {
		return err
	}

	for i, e := range entities {
		recipients[i].ID = e.ID
		recipients[i].CreatedAt = e.CreatedAt
	}
	return nil
}

func (r *RecipientRepository) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	var entity RecipientEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toRecipientModel(&entity), nil
}

// MarkSent terminalizes the row as delivered and clears any error left by an
// earlier failed attempt. The row is owned by a single delivery task chain,
// so this write is unconditional.
func (r *RecipientRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.Write(ctx).Model(&RecipientEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivery_status": string(model.DeliveryStatusSent),
			"sent_at":         at,
			"error_message":   nil,
		}).Error
}

// MarkFailed terminalizes the row as failed. Used for the unretryable
// dispositions (parent or tenant gone); the retryable transport path never
// terminalizes mid-budget, it only records the error.
func (r *RecipientRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.Write(ctx).Model(&RecipientEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivery_status": string(model.DeliveryStatusFailed),
			"error_message":   errMsg,
		}).Error
}

// RecordError stores the latest attempt's error without touching the status.
// The row stays pending so the completion watcher keeps waiting while the
// attempt budget lasts, and a later successful attempt clears it.
func (r *RecipientRepository) RecordError(ctx context.Context, id int64, errMsg string) error {
	return r.Write(ctx).Model(&RecipientEntity{}).
		Where("id = ?", id).
		Update("error_message", errMsg).Error
}

// MarkFailedIfPending upgrades pending -> failed only when no other writer
// has terminalized the row; the report value tells the caller whether it won
// and therefore owns the failed_count increment. fallbackErr fills
// error_message only when no attempt recorded a concrete error (e.g. the
// handler was killed by a timeout before it ran).
func (r *RecipientRepository) MarkFailedIfPending(ctx context.Context, id int64, fallbackErr string) (bool, error) {
	res := r.Write(ctx).Model(&RecipientEntity{}).
		Where("id = ? AND delivery_status = ?", id, string(model.DeliveryStatusPending)).
		Updates(map[string]interface{}{
			"delivery_status": string(model.DeliveryStatusFailed),
			"error_message":   gorm.Expr("COALESCE(error_message, ?)", fallbackErr),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountPending is the completion watcher's only read.
func (r *RecipientRepository) CountPending(ctx context.Context, announcementID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&RecipientEntity{}).
		Where("announcement_id = ? AND delivery_status = ?", announcementID, string(model.DeliveryStatusPending)).
		Count(&count).Error
	return count, err
}

func (r *RecipientRepository) ListByAnnouncement(ctx context.Context, announcementID int64) ([]*model.Recipient, error) {
	var entities []*RecipientEntity
	err := r.Read(ctx).
		Where("announcement_id = ?", announcementID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}
