package market

import (
	"context"
	"fmt"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/domain"
)

// ChainReader resolves the live active bin for a pool directly from chain
// state. Kept as a narrow interface rather than a concrete client so the
// engine and its tests never depend on a specific chain SDK — the same
// "abstract the network edge behind a small port" shape as polybot's
// ports.MarketProvider sitting in front of polymarket.Client.
type ChainReader interface {
	ActiveBin(ctx context.Context, poolAddress string) (domain.ActiveBin, error)
}

// Provider is the per-bot facade over the shared cache and an optional
// chain reader. Each running engine owns one.
type Provider struct {
	cache *cache.Cache
	chain ChainReader
}

// NewProvider builds a Provider. chain may be nil, in which case active-bin
// resolution always falls back to the synthetic estimate.
func NewProvider(c *cache.Cache, chain ChainReader) *Provider {
	return &Provider{cache: c, chain: chain}
}

// ListEligiblePools returns every cached pool that passes cfg's static
// filters, unscored.
func (p *Provider) ListEligiblePools(ctx context.Context, cfg domain.BotConfig) ([]domain.Pool, error) {
	all, err := p.cache.AllPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list eligible pools: %w", err)
	}
	out := make([]domain.Pool, 0, len(all))
	for _, pool := range all {
		if IsEligible(pool, cfg) {
			out = append(out, pool)
		}
	}
	return out, nil
}

// Pool returns a single pool by address, reading through the shared cache.
func (p *Provider) Pool(ctx context.Context, address string) (domain.Pool, error) {
	return p.cache.Pool(ctx, address)
}

// MarketScore scores a single pool. Exposed as a thin wrapper so callers
// only need the Provider, not the market package's scoring internals.
func (p *Provider) MarketScore(pool domain.Pool) domain.MarketScore {
	return Score(pool)
}

// ActiveBin resolves the current active bin for a pool: cache first, then
// on-chain, falling back to a synthetic estimate derived from the pool's
// reported price and bin step when the on-chain read is unavailable or
// fails. Synthesised bins are cached exactly like real ones.
func (p *Provider) ActiveBin(ctx context.Context, pool domain.Pool) (domain.ActiveBin, error) {
	if bin, ok := p.cache.ActiveBin(pool.Address); ok {
		return bin, nil
	}

	if p.chain != nil {
		bin, err := p.chain.ActiveBin(ctx, pool.Address)
		if err == nil {
			p.cache.PutActiveBin(pool.Address, bin)
			return bin, nil
		}
	}

	bin := domain.ActiveBin{
		BinID:     SyntheticBinID(pool.CurrentPrice, pool.BinStep),
		Price:     pool.CurrentPrice,
		Synthetic: true,
	}
	p.cache.PutActiveBin(pool.Address, bin)
	return bin, nil
}
