package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/pkg/pg"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition is returned when a caller asks for a backward
	// status move. Guarded updates make this unreachable in practice; the
	// check exists as a defensive invariant.
	ErrIllegalTransition = errors.New("illegal status transition")
)

type AnnouncementRepository struct {
	*pg.DB
}

func NewAnnouncementRepository(db *pg.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db}
}

func (r *AnnouncementRepository) Create(ctx context.Context, a *model.Announcement) (*model.Announcement, error) {
	entity := toAnnouncementEntity(a)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toAnnouncementModel(entity), nil
}

func (r *AnnouncementRepository) Get(ctx context.Context, id int64) (*model.Announcement, error) {
	var entity AnnouncementEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toAnnouncementModel(&entity), nil
}

// TransitionStatus performs the guarded forward move from -> to. It reports
// false when the row was not in the expected state, which is how duplicate
// fan-out invocations detect that someone else already won the fence.
func (r *AnnouncementRepository) TransitionStatus(ctx context.Context, id int64, from, to model.AnnouncementStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	res := r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed force-transitions an announcement to the terminal failed status.
// Only the fan-out fatal path uses this; terminal rows are left untouched so
// the move stays monotonic.
func (r *AnnouncementRepository) MarkFailed(ctx context.Context, id int64) (bool, error) {
	res := r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ? AND status IN ?", id, []string{
			string(model.AnnouncementStatusDraft),
			string(model.AnnouncementStatusSending),
		}).
		Update("status", string(model.AnnouncementStatusFailed))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *AnnouncementRepository) SetTotalRecipients(ctx context.Context, id int64, n int) error {
	return r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ?", id).
		Update("total_recipients", n).Error
}

// IncrementSuccessful bumps successful_count with a relative UPDATE. Many
// delivery tasks increment the same row concurrently, so this must never be
// a read-modify-write in application memory.
func (r *AnnouncementRepository) IncrementSuccessful(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ?", id).
		Update("successful_count", gorm.Expr("successful_count + 1")).Error
}

func (r *AnnouncementRepository) IncrementFailed(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ?", id).
		Update("failed_count", gorm.Expr("failed_count + 1")).Error
}

// Finalize moves sending -> to and stamps sent_at in one guarded update. The
// guard makes concurrent watcher polls idempotent: only one finalizes.
func (r *AnnouncementRepository) Finalize(ctx context.Context, id int64, to model.AnnouncementStatus, sentAt time.Time) (bool, error) {
	if !model.AnnouncementStatusSending.CanTransition(to) {
		return false, fmt.Errorf("%w: sending -> %s", ErrIllegalTransition, to)
	}

	res := r.Write(ctx).Model(&AnnouncementEntity{}).
		Where("id = ? AND status = ?", id, string(model.AnnouncementStatusSending)).
		Updates(map[string]interface{}{
			"status":  string(to),
			"sent_at": sentAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
