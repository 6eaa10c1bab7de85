package services

import (
	"context"
	"time"

	"github.com/tenantops/announcer/pkg/redis"
)

// HealthService answers the liveness probe. Postgres problems surface as
// request failures already; redis is the one dependency a healthy-looking
// API can silently lose, because publishing is its only use.
type HealthService struct {
	redis redis.Adapter
}

func NewHealthService(r redis.Adapter) *HealthService {
	return &HealthService{redis: r}
}

func (s *HealthService) Get() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.redis.Client().Ping(ctx).Err()
}
