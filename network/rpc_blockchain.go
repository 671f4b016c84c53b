package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var _ BlockchainService = (*RPCClient)(nil)

// treasuryLabel is the wallet label attached to imported watch addresses.
const treasuryLabel = "b0ase-treasury"

// satsFromBTC converts a node BTC amount to satoshis without float rounding.
func satsFromBTC(n json.Number) (uint64, error) {
	btc, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0, fmt.Errorf("%w: btc amount %q: %w", ErrInvalidResponse, n, err)
	}
	v, err := ParseAmount(btc.Shift(8).String())
	if err != nil {
		return 0, fmt.Errorf("btc amount %s: %w", n, err)
	}
	return v, nil
}

type nodeUnspent struct {
	TxID          string      `json:"txid"`
	Vout          uint32      `json:"vout"`
	Amount        json.Number `json:"amount"`
	ScriptPubKey  string      `json:"scriptPubKey"`
	Address       string      `json:"address"`
	Confirmations int64       `json:"confirmations"`
}

// ImportAddress adds address to the node wallet as watch-only, without a
// rescan, so listunspent can see it. Importing an address twice is not an
// error.
func (c *RPCClient) ImportAddress(ctx context.Context, address string) error {
	err := c.Call(ctx, "importaddress", []interface{}{address, treasuryLabel, false}, nil)
	if err != nil && rpcCode(err) != rpcCodeWallet {
		return fmt.Errorf("network: import %s: %w", address, err)
	}
	return nil
}

// ListUnspent runs listunspent for a single watched address, including
// mempool outputs.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNotConfigured)
	}
	var rows []nodeUnspent
	if err := c.callIdempotent(ctx, "listunspent", []interface{}{0, 9999999, []string{address}}, &rows); err != nil {
		return nil, fmt.Errorf("network: list unspent for %s: %w", address, err)
	}

	utxos := make([]*UTXO, 0, len(rows))
	for _, row := range rows {
		sats, err := satsFromBTC(row.Amount)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, &UTXO{
			TxID:          row.TxID,
			Vout:          row.Vout,
			Amount:        sats,
			ScriptPubKey:  row.ScriptPubKey,
			Address:       row.Address,
			Confirmations: row.Confirmations,
		})
	}
	return utxos, nil
}

// BroadcastTx submits rawTxHex with sendrawtransaction. Every rejection wraps
// ErrBroadcastRejected; spent or conflicting inputs also wrap ErrDoubleSpend.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txid)
	switch {
	case err == nil:
		return txid, nil
	case rpcCode(err) == rpcCodeVerifyError, looksLikeDoubleSpend(err.Error()):
		return "", fmt.Errorf("%w: %w: %w", ErrBroadcastRejected, ErrDoubleSpend, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
	}
}

// GetRawTx fetches the serialized transaction.
func (c *RPCClient) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	var rawHex string
	if err := c.callIdempotent(ctx, "getrawtransaction", []interface{}{txid, false}, &rawHex); err != nil {
		return nil, txLookupErr(txid, err)
	}
	data, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %w", ErrInvalidResponse, err)
	}
	return data, nil
}

type nodeTx struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
}

type nodeBlockHeader struct {
	Height uint64 `json:"height"`
}

// GetTxStatus reports confirmations for txid. Nodes that omit blockheight
// from verbose transactions get a getblockheader follow-up.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var tx nodeTx
	if err := c.callIdempotent(ctx, "getrawtransaction", []interface{}{txid, true}, &tx); err != nil {
		return nil, txLookupErr(txid, err)
	}
	if tx.BlockHash != "" && tx.BlockHeight == 0 {
		var hdr nodeBlockHeader
		if err := c.callIdempotent(ctx, "getblockheader", []interface{}{tx.BlockHash, true}, &hdr); err != nil {
			return nil, fmt.Errorf("network: block header %s: %w", tx.BlockHash, err)
		}
		tx.BlockHeight = hdr.Height
	}
	return &TxStatus{
		TxID:          txid,
		Confirmed:     tx.Confirmations > 0,
		Confirmations: tx.Confirmations,
		BlockHash:     tx.BlockHash,
		BlockHeight:   tx.BlockHeight,
	}, nil
}

func txLookupErr(txid string, err error) error {
	if rpcCode(err) == rpcCodeInvalidAddressOrKey {
		return fmt.Errorf("%w: %s: %w", ErrTxNotFound, txid, err)
	}
	return err
}
