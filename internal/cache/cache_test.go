package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

type stubUpstream struct {
	allPoolsCalls int32
	poolCalls     int32
	pools         []domain.Pool
	err           error
}

func (s *stubUpstream) FetchAllPools(ctx context.Context) ([]domain.Pool, error) {
	atomic.AddInt32(&s.allPoolsCalls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.pools, nil
}

func (s *stubUpstream) FetchPool(ctx context.Context, address string) (domain.Pool, error) {
	atomic.AddInt32(&s.poolCalls, 1)
	if s.err != nil {
		return domain.Pool{}, s.err
	}
	for _, p := range s.pools {
		if p.Address == address {
			return p, nil
		}
	}
	return domain.Pool{}, errors.New("not found")
}

func TestAllPools_CoalescesConcurrentCallers(t *testing.T) {
	up := &stubUpstream{pools: []domain.Pool{{Address: "pool-1"}, {Address: "pool-2"}}}
	c := New(up)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AllPools(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&up.allPoolsCalls))
}

func TestAllPools_SidePopulatesSinglePoolCache(t *testing.T) {
	up := &stubUpstream{pools: []domain.Pool{{Address: "pool-1", Liquidity: 100}}}
	c := New(up)

	_, err := c.AllPools(context.Background())
	require.NoError(t, err)

	pool, err := c.Pool(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, pool.Liquidity)
	assert.Equal(t, int32(0), atomic.LoadInt32(&up.poolCalls))
}

func TestAllPools_ServesStaleOnUpstreamError(t *testing.T) {
	up := &stubUpstream{pools: []domain.Pool{{Address: "pool-1"}}}
	c := New(up)

	_, err := c.AllPools(context.Background())
	require.NoError(t, err)

	c.mu.Lock()
	c.allPools.fetchedAt = c.allPools.fetchedAt.Add(-AllPoolsTTL * 2)
	c.mu.Unlock()
	up.err = errors.New("upstream down")

	pools, err := c.AllPools(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 1)
	assert.Equal(t, int64(1), c.Stats().StaleServed)
}

func TestAllPools_ErrorsWhenNoCacheToFallBackOn(t *testing.T) {
	up := &stubUpstream{err: errors.New("upstream down")}
	c := New(up)

	_, err := c.AllPools(context.Background())
	assert.Error(t, err)
}

func TestActiveBin_MissUntilPopulated(t *testing.T) {
	c := New(&stubUpstream{})

	_, ok := c.ActiveBin("pool-1")
	assert.False(t, ok)

	c.PutActiveBin("pool-1", domain.ActiveBin{BinID: 42, Price: 1.5})
	bin, ok := c.ActiveBin("pool-1")
	assert.True(t, ok)
	assert.Equal(t, 42, bin.BinID)
}
