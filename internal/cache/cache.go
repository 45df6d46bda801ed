package cache

import (
	"context"
	"time"

	"dulceria/internal/domain"
)

// CatalogCache holds the derived catalog projection (products with lifecycle
// state and aggregate stock). It is invalidated on every inventory mutation,
// so a short TTL is enough.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.ProductView, bool, error)
	Set(ctx context.Context, key string, value []domain.ProductView, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.ProductView, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.ProductView, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
