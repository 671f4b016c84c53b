package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/metrics"
)

// DefaultIndexerURL is the public GorillaPool ordinals API.
const DefaultIndexerURL = "https://ordinals.gorillapool.io"

// IndexerConfig configures the ordinals indexer client.
type IndexerConfig struct {
	BaseURL string        `json:"base_url"`
	TokenID string        `json:"token_id"` // deploy inscription id, e.g. <txid>_0
	Timeout time.Duration `json:"timeout"`
}

// TokenInfo is the indexer's view of a BSV-20 token.
type TokenInfo struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	TotalSupply uint64 `json:"total_supply"`
	Decimals    uint64 `json:"decimals"`
	HolderCount uint64 `json:"holder_count"`
	Height      uint64 `json:"height"`
}

// Holder is one entry of the on-chain holder snapshot.
type Holder struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

type tokenInfoJSON struct {
	ID       string `json:"id"`
	Tick     string `json:"tick"`
	Sym      string `json:"sym"`
	Max      Amount `json:"max"`
	Supply   Amount `json:"supply"`
	Dec      Amount `json:"dec"`
	Holders  Amount `json:"holders"`
	Accounts Amount `json:"accounts"`
	Height   Amount `json:"height"`
}

type holderJSON struct {
	Address string  `json:"address"`
	Amt     *Amount `json:"amt"`
	Balance *Amount `json:"balance"`
}

func (h holderJSON) holder() Holder {
	out := Holder{Address: h.Address}
	switch {
	case h.Amt != nil:
		out.Balance = uint64(*h.Amt)
	case h.Balance != nil:
		out.Balance = uint64(*h.Balance)
	}
	return out
}

// IndexerClient reads BSV-20 token metadata and holders from a GorillaPool
// compatible ordinals indexer.
//
// FetchTokenInfo and FetchHolders return errors. TokenInfo, Holders and Balance
// are the best-effort variants used for display and reconciliation: failures
// are logged and degrade to nil, empty and zero respectively.
type IndexerClient struct {
	api     restAPI
	tokenID string
	log     *zap.Logger
}

// NewIndexerClient creates an indexer client. A nil logger disables logging.
func NewIndexerClient(cfg IndexerConfig, log *zap.Logger) *IndexerClient {
	if log == nil {
		log = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultIndexerURL
	}
	return &IndexerClient{
		api:     restAPI{base: base, client: newHTTPClient(cfg.Timeout)},
		tokenID: cfg.TokenID,
		log:     log.Named("indexer"),
	}
}

// TokenID returns the configured deploy inscription id.
func (c *IndexerClient) TokenID() string { return c.tokenID }

func (c *IndexerClient) tokenPath() (string, error) {
	if c.tokenID == "" {
		return "", fmt.Errorf("%w: token id", ErrNotConfigured)
	}
	return "/api/bsv20/id/" + url.PathEscape(c.tokenID), nil
}

// FetchTokenInfo calls GET /api/bsv20/id/{tokenId}.
func (c *IndexerClient) FetchTokenInfo(ctx context.Context) (*TokenInfo, error) {
	path, err := c.tokenPath()
	if err != nil {
		return nil, err
	}
	var raw tokenInfoJSON
	err = c.api.getJSON(ctx, path, &raw)
	observe("token", err)
	if err != nil {
		return nil, fmt.Errorf("network: fetch token info: %w", err)
	}

	info := &TokenInfo{
		ID:          raw.ID,
		Symbol:      raw.Sym,
		TotalSupply: uint64(raw.Max),
		Decimals:    uint64(raw.Dec),
		HolderCount: uint64(raw.Holders),
		Height:      uint64(raw.Height),
	}
	if info.ID == "" {
		info.ID = c.tokenID
	}
	if info.Symbol == "" {
		info.Symbol = raw.Tick
	}
	if info.TotalSupply == 0 {
		info.TotalSupply = uint64(raw.Supply)
	}
	if info.HolderCount == 0 {
		info.HolderCount = uint64(raw.Accounts)
	}
	return info, nil
}

// Holder pages are requested with limit/offset until a short page arrives.
// maxHolderPages bounds the walk against indexers that ignore offset.
const (
	holdersPageSize = 100
	maxHolderPages  = 1000
)

// FetchHolders pages through GET /api/bsv20/id/{tokenId}/holders. Both an
// array body and a single holder object are accepted; a single object ends
// the walk.
func (c *IndexerClient) FetchHolders(ctx context.Context) ([]Holder, error) {
	path, err := c.tokenPath()
	if err != nil {
		return nil, err
	}
	holders := []Holder{}
	for page := 0; page < maxHolderPages; page++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(holdersPageSize))
		query.Set("offset", strconv.Itoa(page*holdersPageSize))

		batch, n, err := c.fetchHolderPage(ctx, path+"/holders?"+query.Encode())
		observe("holders", err)
		if err != nil {
			return nil, fmt.Errorf("network: fetch holders offset %d: %w", page*holdersPageSize, err)
		}
		holders = append(holders, batch...)
		if n < holdersPageSize {
			return holders, nil
		}
	}
	return nil, fmt.Errorf("%w: holders exceed %d pages", ErrInvalidResponse, maxHolderPages)
}

// fetchHolderPage returns the usable holders of one page and the raw entry
// count used to detect the last page.
func (c *IndexerClient) fetchHolderPage(ctx context.Context, path string) ([]Holder, int, error) {
	body, err := c.api.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	return decodeHolders(body)
}

func decodeHolders(body []byte) ([]Holder, int, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var one holderJSON
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, 0, fmt.Errorf("%w: decode holder: %w", ErrInvalidResponse, err)
		}
		if one.Address == "" {
			return []Holder{}, 0, nil
		}
		return []Holder{one.holder()}, 1, nil
	}

	var many []holderJSON
	if err := json.Unmarshal(body, &many); err != nil {
		return nil, 0, fmt.Errorf("%w: decode holders: %w", ErrInvalidResponse, err)
	}
	holders := make([]Holder, 0, len(many))
	for _, h := range many {
		if h.Address == "" {
			continue
		}
		holders = append(holders, h.holder())
	}
	return holders, len(many), nil
}

// TokenInfo is FetchTokenInfo returning nil on failure.
func (c *IndexerClient) TokenInfo(ctx context.Context) *TokenInfo {
	info, err := c.FetchTokenInfo(ctx)
	if err != nil {
		c.log.Warn("token info unavailable", zap.String("token_id", c.tokenID), zap.Error(err))
		return nil
	}
	return info
}

// Holders is FetchHolders returning an empty list on failure.
func (c *IndexerClient) Holders(ctx context.Context) []Holder {
	holders, err := c.FetchHolders(ctx)
	if err != nil {
		c.log.Warn("holder snapshot unavailable", zap.String("token_id", c.tokenID), zap.Error(err))
		return []Holder{}
	}
	return holders
}

// Balance returns the on-chain balance of address, or 0 when it is absent
// from the snapshot.
func (c *IndexerClient) Balance(ctx context.Context, address string) uint64 {
	for _, h := range c.Holders(ctx) {
		if h.Address == address {
			return h.Balance
		}
	}
	return 0
}

func observe(endpoint string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IndexerRequests.WithLabelValues(endpoint, status).Inc()
}
