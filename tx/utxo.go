package tx

import (
	"encoding/hex"
	"fmt"
)

// TxIDLen is the length of a transaction hash in bytes.
const TxIDLen = 32

// UTXO represents a spendable output owned by the treasury key.
type UTXO struct {
	TxID         []byte `json:"txid"`          // 32 bytes, internal byte order
	Vout         uint32 `json:"vout"`
	Amount       uint64 `json:"amount"`        // satoshis
	ScriptPubKey []byte `json:"script_pubkey"` // locking script bytes, empty means P2PKH of the signer
}

// ParseTxID converts a display-order hex txid, as returned by explorers and
// nodes, into the internal byte order used by transaction inputs.
func ParseTxID(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTxID, err)
	}
	if len(b) != TxIDLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidTxID, len(b))
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

// SumAmounts returns the total value of utxos.
func SumAmounts(utxos []*UTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		if u != nil {
			total += u.Amount
		}
	}
	return total
}
