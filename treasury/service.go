package treasury

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/metrics"
	"github.com/b0ase/bsv20-treasury/network"
)

// Snapshotter is the part of the indexer the treasury reads. Both methods
// degrade to nil/empty on failure.
type Snapshotter interface {
	TokenInfo(ctx context.Context) *network.TokenInfo
	Holders(ctx context.Context) []network.Holder
}

// HolderLister lists ledger holders.
type HolderLister interface {
	AllHolders(ctx context.Context) ([]ledger.Holder, error)
}

// Config identifies the treasury.
type Config struct {
	Address     string
	TotalSupply uint64 // used when the indexer reports no supply
}

// Service combines the indexer snapshot with the ledger.
type Service struct {
	cfg     Config
	indexer Snapshotter
	ledger  HolderLister
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a treasury service. A nil logger is replaced by a no-op logger.
func NewService(cfg Config, indexer Snapshotter, holders HolderLister, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		indexer: indexer,
		ledger:  holders,
		log:     log.Named("treasury"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Address returns the treasury address.
func (s *Service) Address() string { return s.cfg.Address }

// OnChainTreasuryBalance computes the treasury position from the indexer.
// The supply comes from the indexer's token info when available.
func (s *Service) OnChainTreasuryBalance(ctx context.Context) Balance {
	supply := s.cfg.TotalSupply
	if info := s.indexer.TokenInfo(ctx); info != nil && info.TotalSupply > 0 {
		supply = info.TotalSupply
	}
	return ComputeBalance(s.cfg.Address, supply, s.indexer.Holders(ctx))
}

// Reconcile compares the ledger with the indexer snapshot. The treasury's own
// on-chain entry is not a ledger holder and is left out. Nothing is corrected.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	holders, err := s.ledger.AllHolders(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("treasury: list ledger holders: %w", err)
	}

	var onchain []network.Holder
	for _, h := range s.indexer.Holders(ctx) {
		if h.Address != s.cfg.Address {
			onchain = append(onchain, h)
		}
	}

	discrepancies := Compare(holders, onchain)
	report := &Report{
		InSync:        len(discrepancies) == 0,
		Discrepancies: discrepancies,
		CheckedAt:     s.now(),
	}

	metrics.ReconcileDiscrepancies.Set(float64(len(discrepancies)))
	if report.InSync {
		metrics.ReconcileRuns.WithLabelValues("in_sync").Inc()
	} else {
		metrics.ReconcileRuns.WithLabelValues("drift").Inc()
	}
	for _, d := range discrepancies {
		s.log.Warn("ledger drift",
			zap.String("address", d.Address),
			zap.Uint64("on_chain", d.OnChain),
			zap.Uint64("database", d.Database),
			zap.Int64("difference", d.Difference),
		)
	}
	return report, nil
}
