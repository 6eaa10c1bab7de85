package repository

import (
	"time"

	"github.com/tenantops/announcer/internal/model"
)

type TenantEntity struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name         string    `gorm:"column:name;not null"`
	Status       string    `gorm:"column:status;not null;index"`
	ContactName  string    `gorm:"column:contact_name"`
	ContactEmail string    `gorm:"column:contact_email"`
	Plan         string    `gorm:"column:plan"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (TenantEntity) TableName() string {
	return "tenants"
}

func toTenantEntity(t *model.Tenant) *TenantEntity {
	if t == nil {
		return nil
	}
	return &TenantEntity{
		ID:           t.ID,
		Name:         t.Name,
		Status:       string(t.Status),
		ContactName:  t.ContactName,
		ContactEmail: t.ContactEmail,
		Plan:         t.Plan,
		CreatedAt:    t.CreatedAt,
	}
}

func toTenantModel(e *TenantEntity) *model.Tenant {
	if e == nil {
		return nil
	}
	return &model.Tenant{
		ID:           e.ID,
		Name:         e.Name,
		Status:       model.TenantStatus(e.Status),
		ContactName:  e.ContactName,
		ContactEmail: e.ContactEmail,
		Plan:         e.Plan,
		CreatedAt:    e.CreatedAt,
	}
}

func toTenantModels(entities []*TenantEntity) []*model.Tenant {
	if entities == nil {
		return nil
	}
	models := make([]*model.Tenant, len(entities))
	for i, e := range entities {
		models[i] = toTenantModel(e)
	}
	return models
}
