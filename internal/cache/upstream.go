package cache

import (
	"context"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// Upstream is the pool API the shared cache fronts. Implementations perform
// the actual HTTP calls; the cache adds coalescing, TTL and rate limiting
// on top, the same separation of concerns as polybot's polymarket.Client
// sitting behind ports.MarketProvider.
type Upstream interface {
	FetchAllPools(ctx context.Context) ([]domain.Pool, error)
	FetchPool(ctx context.Context, address string) (domain.Pool, error)
}
