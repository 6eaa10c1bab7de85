package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tenantops/announcer/internal/dispatch"
	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/pkg/logger"
)

const maxTitleLen = 200
const maxBodyLen = 10_000

var (
	ErrEmptyTitle      = errors.New("announcement title cannot be empty")
	ErrEmptyBody       = errors.New("announcement body cannot be empty")
	ErrTitleTooLong    = fmt.Errorf("announcement title exceeds %d characters", maxTitleLen)
	ErrBodyTooLong     = fmt.Errorf("announcement body exceeds %d characters", maxBodyLen)
	ErrInvalidAudience = errors.New("unknown audience selector")
	ErrNoSpecificIDs   = errors.New("specific audience requires at least one tenant id")
	ErrNotFound        = errors.New("announcement not found")
	ErrNotDraft        = errors.New("announcement has already been dispatched")
)

type AnnouncementRepository interface {
	Create(ctx context.Context, a *model.Announcement) (*model.Announcement, error)
	Get(ctx context.Context, id int64) (*model.Announcement, error)
}

type RecipientRepository interface {
	ListByAnnouncement(ctx context.Context, announcementID int64) ([]*model.Recipient, error)
}

// AnnouncementService is the write path behind the ops API: create a draft,
// hand it to the fan-out queue, read it back. All delivery work happens in
// the dispatch workers; this service never touches a recipient row.
type AnnouncementService struct {
	announcements AnnouncementRepository
	recipients    RecipientRepository
	fanoutQueue   dispatch.Publisher
}

func NewAnnouncementService(
	announcements AnnouncementRepository,
	recipients RecipientRepository,
	fanoutQueue dispatch.Publisher,
) *AnnouncementService {
	return &AnnouncementService{
		announcements: announcements,
		recipients:    recipients,
		fanoutQueue:   fanoutQueue,
	}
}

type AnnouncementCreateRequest struct {
	Title             string  `json:"title"`
	Body              string  `json:"body"`
	Audience          string  `json:"audience"`
	SpecificTenantIDs []int64 `json:"specific_tenant_ids,omitempty"`
}

func (r *AnnouncementCreateRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(r.Title) > maxTitleLen {
		return ErrTitleTooLong
	}
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(r.Body) > maxBodyLen {
		return ErrBodyTooLong
	}
	aud := model.Audience(r.Audience)
	if !aud.Valid() {
		return ErrInvalidAudience
	}
	if aud == model.AudienceSpecific && len(r.SpecificTenantIDs) == 0 {
		return ErrNoSpecificIDs
	}
	return nil
}

func (s *AnnouncementService) Create(ctx context.Context, req AnnouncementCreateRequest) (*model.Announcement, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a := &model.Announcement{
		Title:             strings.TrimSpace(req.Title),
		Body:              req.Body,
		Audience:          model.Audience(req.Audience),
		SpecificTenantIDs: req.SpecificTenantIDs,
		Status:            model.AnnouncementStatusDraft,
	}
	created, err := s.announcements.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	logger.Info("announcement created", "announcement_id", created.ID, "audience", created.Audience)
	return created, nil
}

// Dispatch enqueues the fan-out job for a draft announcement. The draft
// check here is a fast-path courtesy; the authoritative fence is the
// guarded draft->sending transition inside the fan-out itself, so a
// double-dispatch race resolves to one fan-out either way.
func (s *AnnouncementService) Dispatch(ctx context.Context, id int64) error {
	a, err := s.announcements.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load announcement: %w", err)
	}
	if a.Status != model.AnnouncementStatusDraft {
		return ErrNotDraft
	}

	msgID, err := s.fanoutQueue.PublishJSON(ctx, dispatch.FanoutJob{AnnouncementID: id}, nil)
	if err != nil {
		return fmt.Errorf("enqueue fanout: %w", err)
	}
	logger.Info("announcement dispatched", "announcement_id", id, "message_id", msgID)
	return nil
}

func (s *AnnouncementService) Get(ctx context.Context, id int64) (*model.Announcement, error) {
	a, err := s.announcements.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *AnnouncementService) ListRecipients(ctx context.Context, id int64) ([]*model.Recipient, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.recipients.ListByAnnouncement(ctx, id)
}
