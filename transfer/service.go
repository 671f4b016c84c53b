// Package transfer moves BSV-20 tokens out of the treasury: it resolves the
// recipient, builds and signs the inscription transaction from fresh UTXOs,
// broadcasts it and reports a Result that never panics or leaks an error.
package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/b0ase/bsv20-treasury/keystore"
	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/metrics"
	"github.com/b0ase/bsv20-treasury/network"
	"github.com/b0ase/bsv20-treasury/paymail"
	"github.com/b0ase/bsv20-treasury/tx"
)

// Defaults for Config.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Chain is the chain access a transfer needs.
type Chain interface {
	network.UTXOSource
	network.Broadcaster
}

// AddressResolver turns a paymail handle into a P2PKH address.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, handle string) (string, error)
}

// Ledger is debited after a successful transfer for a known holder.
type Ledger interface {
	UpdateHolderBalance(ctx context.Context, holderID string, delta int64) (*ledger.Holder, error)
}

// Config configures the transfer service.
type Config struct {
	Tick string
	// MaxRetries bounds rebuild-and-rebroadcast attempts after a double spend.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Request is one outgoing transfer. Exactly one of Address and Paymail is
// normally set; Address wins when both are.
type Request struct {
	Address  string `json:"address,omitempty"`
	Paymail  string `json:"paymail,omitempty"`
	Amount   uint64 `json:"amount"`
	HolderID string `json:"holderId,omitempty"`
}

// Result is the outcome of Transfer.
type Result struct {
	Success   bool   `json:"success"`
	TxID      string `json:"txId,omitempty"`
	Error     string `json:"error,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Fee       uint64 `json:"fee,omitempty"`
}

// Service sends treasury transfers. Spends are serialized so two transfers
// never select the same UTXOs.
type Service struct {
	cfg     Config
	keys    keystore.KeySource
	chain   Chain
	paymail AddressResolver
	ledger  Ledger
	sem     *semaphore.Weighted
	log     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPaymailResolver enables paymail recipients.
func WithPaymailResolver(r AddressResolver) Option { return func(s *Service) { s.paymail = r } }

// WithLedger enables debiting Request.HolderID after broadcast.
func WithLedger(l Ledger) Option { return func(s *Service) { s.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// NewService creates a transfer service.
func NewService(cfg Config, keys keystore.KeySource, chain Chain, opts ...Option) *Service {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	s := &Service{
		cfg:   cfg,
		keys:  keys,
		chain: chain,
		sem:   semaphore.NewWeighted(1),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("transfer")
	return s
}

// Transfer sends req.Amount tokens to the recipient. Failures are logged and
// returned in Result.Error; Transfer itself never fails.
func (s *Service) Transfer(ctx context.Context, req Request) Result {
	key, err := s.keys.PrivateKey(ctx)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotConfigured) {
			s.log.Error("transfer refused", zap.Error(err))
			metrics.TransfersTotal.WithLabelValues("no_key").Inc()
			return Result{Error: MsgKeyNotConfigured}
		}
		return s.fail(req, "error", err)
	}

	if req.Amount == 0 {
		return s.fail(req, "invalid", fmt.Errorf("%w: amount must be positive", ErrInvalidRequest))
	}
	recipient, err := s.recipient(ctx, req)
	if err != nil {
		return s.fail(req, "invalid", err)
	}

	sender, err := tx.AddressFromKey(key)
	if err != nil {
		return s.fail(req, "error", err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.fail(req, "error", err)
	}
	defer s.sem.Release(1)

	built, txid, err := s.buildAndBroadcast(ctx, sender.AddressString, recipient, req.Amount, key)
	if err != nil {
		return s.fail(req, resultLabel(err), err)
	}

	if built.TxID != txid {
		s.log.Warn("broadcast returned a different txid", zap.String("built", built.TxID), zap.String("returned", txid))
	}
	s.log.Info("transfer broadcast",
		zap.String("txid", txid),
		zap.String("recipient", recipient),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("fee", built.Fee),
		zap.Int("inputs", len(built.Inputs)),
	)
	metrics.TransfersTotal.WithLabelValues("success").Inc()

	s.debitLedger(ctx, req)
	return Result{Success: true, TxID: txid, Recipient: recipient, Fee: built.Fee}
}

func (s *Service) recipient(ctx context.Context, req Request) (string, error) {
	if req.Address != "" {
		return req.Address, nil
	}
	if req.Paymail == "" {
		return "", fmt.Errorf("%w: address or paymail required", ErrInvalidRequest)
	}
	if s.paymail == nil {
		return "", ErrPaymailUnsupported
	}
	if !paymail.IsPaymail(req.Paymail) {
		return "", fmt.Errorf("%w: malformed paymail %q", ErrInvalidRequest, req.Paymail)
	}
	addr, err := s.paymail.ResolveAddress(ctx, req.Paymail)
	if err != nil {
		return "", fmt.Errorf("transfer: resolve %s: %w", req.Paymail, err)
	}
	return addr, nil
}

// buildAndBroadcast fetches UTXOs, builds and broadcasts. Double-spend
// rejections mean the UTXO set moved underneath us, so the whole cycle is
// retried with backoff; every other error is permanent.
func (s *Service) buildAndBroadcast(ctx context.Context, sender, recipient string, amount uint64, key *ec.PrivateKey) (*tx.TransferTx, string, error) {
	var (
		built *tx.TransferTx
		txid  string
	)
	op := func() error {
		utxos, err := s.chain.ListUnspent(ctx, sender)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transfer: list unspent: %w", err))
		}
		inputs, err := spendable(utxos)
		if err != nil {
			return backoff.Permanent(err)
		}

		built, err = tx.CreateTransferTransaction(tx.TransferParams{
			Tick:      s.cfg.Tick,
			Amount:    amount,
			Recipient: recipient,
			Key:       key,
			UTXOs:     inputs,
		})
		if err != nil {
			return backoff.Permanent(err)
		}

		txid, err = s.chain.BroadcastTx(ctx, built.Hex)
		if err != nil {
			if network.IsDoubleSpend(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.InitialBackoff
	expo.MaxInterval = s.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.cfg.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		metrics.BroadcastRetries.Inc()
		s.log.Warn("inputs already spent, rebuilding", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, "", err
	}
	return built, txid, nil
}

// spendable converts explorer UTXOs to builder inputs. One-satoshi outputs
// carry inscriptions and are never spent as fee inputs.
func spendable(utxos []*network.UTXO) ([]*tx.UTXO, error) {
	out := make([]*tx.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u == nil || u.Amount <= tx.InscriptionSats {
			continue
		}
		id, err := tx.ParseTxID(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("transfer: utxo %s:%d: %w", u.TxID, u.Vout, err)
		}
		var lock []byte
		if u.ScriptPubKey != "" {
			if lock, err = hex.DecodeString(u.ScriptPubKey); err != nil {
				return nil, fmt.Errorf("transfer: utxo %s:%d script: %w", u.TxID, u.Vout, err)
			}
		}
		out = append(out, &tx.UTXO{TxID: id, Vout: u.Vout, Amount: u.Amount, ScriptPubKey: lock})
	}
	return out, nil
}

func (s *Service) debitLedger(ctx context.Context, req Request) {
	if s.ledger == nil || req.HolderID == "" {
		return
	}
	if req.Amount > 1<<63-1 {
		s.log.Error("ledger debit skipped: amount overflows", zap.String("holder_id", req.HolderID))
		return
	}
	if _, err := s.ledger.UpdateHolderBalance(ctx, req.HolderID, -int64(req.Amount)); err != nil {
		s.log.Error("ledger debit failed after broadcast",
			zap.String("holder_id", req.HolderID),
			zap.Uint64("amount", req.Amount),
			zap.Error(err),
		)
	}
}

func (s *Service) fail(req Request, label string, err error) Result {
	s.log.Error("transfer failed",
		zap.String("address", req.Address),
		zap.String("paymail", req.Paymail),
		zap.Uint64("amount", req.Amount),
		zap.String("result", label),
		zap.Error(err),
	)
	metrics.TransfersTotal.WithLabelValues(label).Inc()
	return Result{Error: Message(err)}
}

// Message converts a transfer error into the text surfaced to callers.
func Message(err error) string {
	var funds *tx.InsufficientFundsError
	switch {
	case errors.Is(err, keystore.ErrKeyNotConfigured):
		return MsgKeyNotConfigured
	case errors.Is(err, tx.ErrNoUTXOs):
		return MsgNoUTXOs
	case errors.As(err, &funds):
		return fmt.Sprintf(msgInsufficientFmt, funds.Have, funds.Need)
	default:
		return err.Error()
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, tx.ErrNoUTXOs):
		return "no_utxos"
	case errors.Is(err, tx.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, network.ErrBroadcastRejected):
		return "rejected"
	default:
		return "error"
	}
}
