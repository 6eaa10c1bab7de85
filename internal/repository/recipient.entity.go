package repository

import (
	"time"

	"github.com/tenantops/announcer/internal/model"
)

type RecipientEntity struct {
	ID             int64      `gorm:"primaryKey;autoIncrement;column:id"`
	AnnouncementID int64      `gorm:"column:announcement_id;not null;uniqueIndex:uk_recipients_announcement_tenant"`
	TenantID       int64      `gorm:"column:tenant_id;not null;uniqueIndex:uk_recipients_announcement_tenant"`
	Address        string     `gorm:"column:address;not null"`
	DeliveryStatus string     `gorm:"column:delivery_status;not null;index;default:pending"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	ErrorMessage   *string    `gorm:"column:error_message"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (RecipientEntity) TableName() string {
	return "recipients"
}

func toRecipientEntity(rc *model.Recipient) *RecipientEntity {
	if rc == nil {
		return nil
	}
	return &RecipientEntity{
		ID:             rc.ID,
		AnnouncementID: rc.AnnouncementID,
		TenantID:       rc.TenantID,
		Address:        rc.Address,
		DeliveryStatus: string(rc.DeliveryStatus),
		SentAt:         rc.SentAt,
		ErrorMessage:   rc.ErrorMessage,
		CreatedAt:      rc.CreatedAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.Recipient {
	if e == nil {
		return nil
	}
	return &model.Recipient{
		ID:             e.ID,
		AnnouncementID: e.AnnouncementID,
		TenantID:       e.TenantID,
		Address:        e.Address,
		DeliveryStatus: model.DeliveryStatus(e.DeliveryStatus),
		SentAt:         e.SentAt,
		ErrorMessage:   e.ErrorMessage,
		CreatedAt:      e.CreatedAt,
	}
}

func toRecipientModels(entities []*RecipientEntity) []*model.Recipient {
	if entities == nil {
		return nil
	}
	models := make([]*model.Recipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
