package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

// HTTPUpstream is the default Upstream backed by a DLMM pool-data REST API
// (e.g. an aggregator over the on-chain DLMM program state), following the
// same thin-JSON-client shape as polybot's polymarket.Client, minus its own
// rate limiting and retries — that concern now lives one layer up in Cache
// so it applies uniformly regardless of which Upstream implementation is
// plugged in.
type HTTPUpstream struct {
	http    *http.Client
	baseURL string
}

// NewHTTPUpstream builds an HTTPUpstream against baseURL (no trailing slash).
func NewHTTPUpstream(baseURL string) *HTTPUpstream {
	return &HTTPUpstream{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

type poolListResponse struct {
	Pools []poolDTO `json:"pools"`
}

type poolDTO struct {
	Address      string  `json:"address"`
	Name         string  `json:"name"`
	MintX        string  `json:"mint_x"`
	MintY        string  `json:"mint_y"`
	BinStep      int     `json:"bin_step"`
	CurrentPrice float64 `json:"current_price"`
	Liquidity    float64 `json:"liquidity"`
	Volume30m    float64 `json:"volume_30m"`
	Volume1h     float64 `json:"volume_1h"`
	Volume2h     float64 `json:"volume_2h"`
	Volume4h     float64 `json:"volume_4h"`
	Volume24h    float64 `json:"volume_24h"`
	Fees30m      float64 `json:"fees_30m"`
	Fees1h       float64 `json:"fees_1h"`
	Fees24h      float64 `json:"fees_24h"`
	APR          float64 `json:"apr"`
}

func (d poolDTO) toDomain() domain.Pool {
	return domain.Pool{
		Address:      d.Address,
		Name:         d.Name,
		MintX:        d.MintX,
		MintY:        d.MintY,
		BinStep:      d.BinStep,
		CurrentPrice: d.CurrentPrice,
		Liquidity:    d.Liquidity,
		Volume30m:    d.Volume30m,
		Volume1h:     d.Volume1h,
		Volume2h:     d.Volume2h,
		Volume4h:     d.Volume4h,
		Volume24h:    d.Volume24h,
		Fees30m:      d.Fees30m,
		Fees1h:       d.Fees1h,
		Fees24h:      d.Fees24h,
		APR:          d.APR,
	}
}

// FetchAllPools implements Upstream.
func (u *HTTPUpstream) FetchAllPools(ctx context.Context) ([]domain.Pool, error) {
	var resp poolListResponse
	if err := u.get(ctx, u.baseURL+"/pools", &resp); err != nil {
		return nil, err
	}
	pools := make([]domain.Pool, 0, len(resp.Pools))
	for _, d := range resp.Pools {
		pools = append(pools, d.toDomain())
	}
	return pools, nil
}

// FetchPool implements Upstream.
func (u *HTTPUpstream) FetchPool(ctx context.Context, address string) (domain.Pool, error) {
	var d poolDTO
	if err := u.get(ctx, u.baseURL+"/pools/"+address, &d); err != nil {
		return domain.Pool{}, err
	}
	return d.toDomain(), nil
}

func (u *HTTPUpstream) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream %s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
