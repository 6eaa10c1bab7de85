package repository

import (
	"time"

	"github.com/tenantops/announcer/internal/model"
)

type AnnouncementEntity struct {
	ID                int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Title             string     `gorm:"column:title;not null"`
	Body              string     `gorm:"column:body;not null"`
	Audience          string     `gorm:"column:audience;not null"`
	SpecificTenantIDs []int64    `gorm:"column:specific_tenant_ids;serializer:json"`
	Status            string     `gorm:"column:status;not null;index;default:draft"`
	TotalRecipients   int        `gorm:"column:total_recipients;not null;default:0"`
	SuccessfulCount   int        `gorm:"column:successful_count;not null;default:0"`
	FailedCount       int        `gorm:"column:failed_count;not null;default:0"`
	SentAt            *time.Time `gorm:"column:sent_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (AnnouncementEntity) TableName() string {
	return "announcements"
}

func toAnnouncementEntity(a *model.Announcement) *AnnouncementEntity {
	if a == nil {
		return nil
	}
	return &AnnouncementEntity{
		ID:                a.ID,
		Title:             a.Title,
		Body:              a.Body,
		Audience:          string(a.Audience),
		SpecificTenantIDs: a.SpecificTenantIDs,
		Status:            string(a.Status),
		TotalRecipients:   a.TotalRecipients,
		SuccessfulCount:   a.SuccessfulCount,
		FailedCount:       a.FailedCount,
		SentAt:            a.SentAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAnnouncementModel(e *AnnouncementEntity) *model.Announcement {
	if e == nil {
		return nil
	}
	return &model.Announcement{
		ID:                e.ID,
		Title:             e.Title,
		Body:              e.Body,
		Audience:          model.Audience(e.Audience),
		SpecificTenantIDs: e.SpecificTenantIDs,
		Status:            model.AnnouncementStatus(e.Status),
		TotalRecipients:   e.TotalRecipients,
		SuccessfulCount:   e.SuccessfulCount,
		FailedCount:       e.FailedCount,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}
