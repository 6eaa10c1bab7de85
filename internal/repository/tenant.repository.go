package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/pkg/pg"
)

type TenantRepository struct {
	*pg.DB
}

func NewTenantRepository(db *pg.DB) *TenantRepository {
	return &TenantRepository{db}
}

func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	entity := toTenantEntity(t)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toTenantModel(entity), nil
}

func (r *TenantRepository) Get(ctx context.Context, id int64) (*model.Tenant, error) {
	var entity TenantEntity
	err := r.Read(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTenantModel(&entity), nil
}

func (r *TenantRepository) ListAll(ctx context.Context) ([]*model.Tenant, error) {
	var entities []*TenantEntity
	if err := r.Read(ctx).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toTenantModels(entities), nil
}

func (r *TenantRepository) ListByStatus(ctx context.Context, status model.TenantStatus) ([]*model.Tenant, error) {
	var entities []*TenantEntity
	err := r.Read(ctx).
		Where("status = ?", string(status)).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTenantModels(entities), nil
}

// ListByIDs looks tenants up by id. Ids with no row are silently omitted
// from the result, not errors.
func (r *TenantRepository) ListByIDs(ctx context.Context, ids []int64) ([]*model.Tenant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entities []*TenantEntity
	err := r.Read(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTenantModels(entities), nil
}
