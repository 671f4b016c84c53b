// Package payment checks that a purchase's funding transaction paid the
// treasury before the ledger credits the buyer.
package payment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/network"
)

// DefaultMinConfirmations is used when Config.MinConfirmations is zero.
const DefaultMinConfirmations = 1

// Config configures a Verifier.
type Config struct {
	TreasuryAddress  string
	MinConfirmations int64
}

// Receipt describes a verified payment.
type Receipt struct {
	TxID          string `json:"txId"`
	PaidSats      uint64 `json:"paidSats"`
	Confirmations int64  `json:"confirmations"`
}

// Verifier checks purchase payments against the chain.
type Verifier struct {
	cfg Config
	txs network.TxSource
	log *zap.Logger
}

// NewVerifier creates a payment verifier. A nil logger is replaced by a no-op logger.
func NewVerifier(cfg Config, txs network.TxSource, log *zap.Logger) *Verifier {
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = DefaultMinConfirmations
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{cfg: cfg, txs: txs, log: log.Named("payment")}
}

// Verify fetches txID and checks that it has the required confirmations and
// that its P2PKH outputs to the treasury sum to at least requiredSats.
func (v *Verifier) Verify(ctx context.Context, txID string, requiredSats uint64) (*Receipt, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: empty txid", ErrInvalidParams)
	}

	status, err := v.txs.GetTxStatus(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("payment: tx status %s: %w", txID, err)
	}
	if status.Confirmations < v.cfg.MinConfirmations {
		return nil, fmt.Errorf("%w: %d of %d", ErrNotConfirmed, status.Confirmations, v.cfg.MinConfirmations)
	}

	raw, err := v.txs.GetRawTx(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("payment: fetch tx %s: %w", txID, err)
	}
	paid, gotID, err := PaidTo(raw, v.cfg.TreasuryAddress)
	if err != nil {
		return nil, err
	}
	if gotID != txID {
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrTxIDMismatch, txID, gotID)
	}
	if paid < requiredSats {
		return nil, fmt.Errorf("%w: paid %d sat, need %d sat", ErrInsufficientPayment, paid, requiredSats)
	}

	v.log.Info("payment verified",
		zap.String("txid", txID),
		zap.Uint64("paid_sats", paid),
		zap.Int64("confirmations", status.Confirmations),
	)
	return &Receipt{TxID: txID, PaidSats: paid, Confirmations: status.Confirmations}, nil
}

// PaidTo sums the P2PKH outputs of rawTx that pay address and returns the
// total with the transaction id. Outputs carrying inscriptions are not P2PKH
// and do not count.
func PaidTo(rawTx []byte, address string) (uint64, string, error) {
	if len(rawTx) == 0 {
		return 0, "", fmt.Errorf("%w: empty raw transaction", ErrInvalidTx)
	}
	tx, err := transaction.NewTransactionFromBytes(rawTx)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}

	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid treasury address: %w", ErrInvalidParams, err)
	}
	expectedPKH := []byte(addr.PublicKeyHash)

	var total uint64
	found := false
	for _, output := range tx.Outputs {
		if output.LockingScript == nil || !output.LockingScript.IsP2PKH() {
			continue
		}
		pkh, err := output.LockingScript.PublicKeyHash()
		if err != nil || !bytes.Equal(pkh, expectedPKH) {
			continue
		}
		found = true
		total += output.Satoshis
	}
	if !found {
		return 0, "", ErrNoMatchingOutput
	}
	return total, tx.TxID().String(), nil
}
