// Package network talks to the outside world on behalf of the treasury:
// a block explorer (WhatsOnChain) or a BSV node for UTXOs and broadcast,
// and an ordinals indexer (GorillaPool) for BSV-20 token state.
package network

import "context"

// UTXOSource lists spendable outputs for an address.
type UTXOSource interface {
	// ListUnspent returns all unspent transaction outputs for the given address.
	ListUnspent(ctx context.Context, address string) ([]*UTXO, error)
}

// Broadcaster submits signed transactions.
type Broadcaster interface {
	// BroadcastTx submits a raw transaction hex to the network and returns the txid.
	// Rejections wrap ErrBroadcastRejected, and additionally ErrDoubleSpend when
	// the inputs were already spent.
	BroadcastTx(ctx context.Context, rawTxHex string) (string, error)
}

// TxSource reads confirmed or mempool transactions.
type TxSource interface {
	// GetRawTx returns the raw transaction bytes for the given txid.
	GetRawTx(ctx context.Context, txid string) ([]byte, error)

	// GetTxStatus returns the confirmation status of a transaction.
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)
}

// BlockchainService is everything the treasury needs from a chain backend.
// Both ExplorerClient and RPCClient implement it.
type BlockchainService interface {
	UTXOSource
	Broadcaster
	TxSource
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"` // display-order hex
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	ScriptPubKey  string `json:"script_pubkey,omitempty"`
	Address       string `json:"address,omitempty"`
	Height        int64  `json:"height"`
	Confirmations int64  `json:"confirmations"`
}

// TxStatus represents the confirmation status of a transaction.
type TxStatus struct {
	TxID          string `json:"txid"`
	Confirmed     bool   `json:"confirmed"`
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"block_hash"`
	BlockHeight   uint64 `json:"block_height"`
}
