package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Compile-time interface check.
var _ BlockchainService = (*ExplorerClient)(nil)

// ExplorerConfig configures the WhatsOnChain REST client.
type ExplorerConfig struct {
	BaseURL string        `json:"base_url"` // e.g. https://api.whatsonchain.com/v1/bsv/main
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// ExplorerClient reads UTXOs and transactions from a WhatsOnChain-compatible
// explorer and broadcasts through its raw transaction endpoint.
type ExplorerClient struct {
	api restAPI
}

// NewExplorerClient creates an explorer client. An API key, when set, is sent
// in the Authorization header.
func NewExplorerClient(cfg ExplorerConfig) *ExplorerClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = cfg.APIKey
	}
	return &ExplorerClient{api: restAPI{
		base:    cfg.BaseURL,
		headers: headers,
		client:  newHTTPClient(cfg.Timeout),
	}}
}

// wocUnspent is one entry of GET /address/{address}/unspent.
type wocUnspent struct {
	Height int64  `json:"height"`
	TxPos  uint32 `json:"tx_pos"`
	TxHash string `json:"tx_hash"`
	Value  uint64 `json:"value"`
}

// ListUnspent returns the UTXOs of address. Both the bare array and the
// {"result": [...]} envelope are accepted.
func (c *ExplorerClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNotConfigured)
	}
	body, err := c.api.do(ctx, http.MethodGet, "/address/"+url.PathEscape(address)+"/unspent", nil)
	if err != nil {
		return nil, fmt.Errorf("network: list unspent for %s: %w", address, err)
	}

	var entries []wocUnspent
	if err := json.Unmarshal(body, &entries); err != nil {
		var wrapped struct {
			Result []wocUnspent `json:"result"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: decode unspent: %w", ErrInvalidResponse, err)
		}
		entries = wrapped.Result
	}

	utxos := make([]*UTXO, 0, len(entries))
	for _, e := range entries {
		if e.TxHash == "" {
			return nil, fmt.Errorf("%w: unspent entry without tx_hash", ErrInvalidResponse)
		}
		utxos = append(utxos, &UTXO{
			TxID:    e.TxHash,
			Vout:    e.TxPos,
			Amount:  e.Value,
			Address: address,
			Height:  e.Height,
		})
	}
	return utxos, nil
}

// BroadcastTx POSTs {"txhex": rawTxHex} to /tx/raw. A non-2xx response is
// returned as ErrBroadcastRejected carrying the response body; the txid in a
// successful response has its surrounding quotes removed.
func (c *ExplorerClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	body, err := c.api.do(ctx, http.MethodPost, "/tx/raw", map[string]string{"txhex": rawTxHex})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if looksLikeDoubleSpend(se.Body) {
				return "", fmt.Errorf("%w: %w: %s", ErrBroadcastRejected, ErrDoubleSpend, se.Body)
			}
			return "", fmt.Errorf("%w: %s", ErrBroadcastRejected, se.Body)
		}
		return "", err
	}

	txid := trimQuotes(string(body))
	if txid == "" {
		return "", fmt.Errorf("%w: empty txid in broadcast response", ErrInvalidResponse)
	}
	return txid, nil
}

// GetRawTx returns the raw bytes of txid from GET /tx/{txid}/hex.
func (c *ExplorerClient) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	body, err := c.api.do(ctx, http.MethodGet, "/tx/"+url.PathEscape(txid)+"/hex", nil)
	if err != nil {
		return nil, notFoundAsTxErr(txid, err)
	}
	data, err := hex.DecodeString(trimQuotes(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %w", ErrInvalidResponse, err)
	}
	return data, nil
}

// wocTx holds the fields of GET /tx/hash/{txid} used for confirmation checks.
type wocTx struct {
	TxID          string `json:"txid"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
	Confirmations int64  `json:"confirmations"`
}

// GetTxStatus returns the confirmation status of txid.
func (c *ExplorerClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var tx wocTx
	if err := c.api.getJSON(ctx, "/tx/hash/"+url.PathEscape(txid), &tx); err != nil {
		return nil, notFoundAsTxErr(txid, err)
	}
	return &TxStatus{
		TxID:          txid,
		Confirmed:     tx.Confirmations > 0,
		Confirmations: tx.Confirmations,
		BlockHash:     tx.BlockHash,
		BlockHeight:   tx.BlockHeight,
	}, nil
}

func notFoundAsTxErr(txid string, err error) error {
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	return err
}
