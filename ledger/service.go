// Package ledger is the authoritative off-chain record of token holders,
// purchases, stakes and dividends.
//
// Service holds every business rule; a Store only persists records inside
// transactions. MemoryStore is the non-persistent development fallback,
// BoltStore an embedded file, PostgresStore the production backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Token supply defaults.
const (
	DefaultTotalSupply uint64 = 1_000_000_000
	DefaultForSale     uint64 = 500_000_000
)

// Service implements ledger operations on top of a Store.
type Service struct {
	store       Store
	totalSupply uint64
	forSale     uint64
	now         func() time.Time
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithSupply overrides the token total supply and the treasury's for-sale allocation.
func WithSupply(total, forSale uint64) Option {
	return func(s *Service) {
		s.totalSupply = total
		s.forSale = forSale
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides uuid.NewString.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a ledger service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		totalSupply: DefaultTotalSupply,
		forSale:     DefaultForSale,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TotalSupply returns the configured token total supply.
func (s *Service) TotalSupply() uint64 { return s.totalSupply }

// ---------------------------------------------------------------------------
// Holders
// ---------------------------------------------------------------------------

// GetOrCreateHolder returns the holder identified by provider and address
// (or handle, for HandCash), creating a zero-balance holder if none exists.
func (s *Service) GetOrCreateHolder(ctx context.Context, address string, provider Provider, ordinalsAddress, handle string) (*Holder, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidHolder, provider)
	}
	if provider == ProviderHandCash && handle == "" {
		return nil, fmt.Errorf("%w: handcash holder requires a handle", ErrInvalidHolder)
	}
	if provider != ProviderHandCash && address == "" {
		return nil, fmt.Errorf("%w: address required", ErrInvalidHolder)
	}

	var out Holder
	err := s.store.Update(ctx, func(tx Tx) error {
		key := HolderKey(provider, address, handle)
		h, err := tx.HolderByKey(key)
		if err == nil {
			out = h
			return nil
		}
		if !errors.Is(err, ErrHolderNotFound) {
			return err
		}

		now := s.now()
		out = Holder{
			ID:              s.newID(),
			Address:         address,
			OrdinalsAddress: ordinalsAddress,
			Handle:          handle,
			Provider:        provider,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.PutHolder(out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHolder looks a holder up by HandCash handle, or by address when handle is empty.
func (s *Service) GetHolder(ctx context.Context, address, handle string) (*Holder, error) {
	var key string
	switch {
	case handle != "":
		key = HolderKey(ProviderHandCash, "", handle)
	case address != "":
		key = HolderKey(ProviderYours, address, "")
	default:
		return nil, fmt.Errorf("%w: address or handle required", ErrInvalidHolder)
	}

	var out Holder
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.HolderByKey(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHolderByID returns the holder with id.
func (s *Service) GetHolderByID(ctx context.Context, id string) (*Holder, error) {
	var out Holder
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Holder(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AllHolders returns every holder, largest balance first.
func (s *Service) AllHolders(ctx context.Context) ([]Holder, error) {
	var holders []Holder
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		holders, err = tx.Holders()
		return err
	})
	if err != nil {
		return nil, err
	}
	sortByBalance(holders)
	return holders, nil
}

// UpdateHolderBalance applies delta to a holder's balance. Debits clamp at
// zero and accumulate into TotalWithdrawn; a debit that would take the
// balance below the staked amount is rejected.
func (s *Service) UpdateHolderBalance(ctx context.Context, holderID string, delta int64) (*Holder, error) {
	var out Holder
	err := s.store.Update(ctx, func(tx Tx) error {
		h, err := tx.Holder(holderID)
		if err != nil {
			return err
		}
		if err := applyDelta(&h, delta); err != nil {
			return err
		}
		h.UpdatedAt = s.now()
		out = h
		return tx.PutHolder(h)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func applyDelta(h *Holder, delta int64) error {
	if delta >= 0 {
		sum, carry := bits.Add64(h.Balance, uint64(delta), 0)
		if carry != 0 {
			return ErrOverflow
		}
		h.Balance = sum
		return nil
	}

	debit := uint64(-(delta + 1)) + 1 // -delta without overflowing on MinInt64
	newBalance := uint64(0)
	if debit < h.Balance {
		newBalance = h.Balance - debit
	}
	if newBalance < h.StakedBalance {
		return fmt.Errorf("%w: %d staked", ErrInsufficientBalance, h.StakedBalance)
	}
	h.TotalWithdrawn += h.Balance - newBalance
	h.Balance = newBalance
	return nil
}

// ---------------------------------------------------------------------------
// Stats and cap table
// ---------------------------------------------------------------------------

// TokenStats summarises circulation. The operator row is excluded from
// circulation, and the treasury balance is what remains of the for-sale
// allocation.
func (s *Service) TokenStats(ctx context.Context) (*TokenStats, error) {
	var holders []Holder
	var purchases []Purchase
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		if holders, err = tx.Holders(); err != nil {
			return err
		}
		purchases, err = tx.Purchases()
		return err
	})
	if err != nil {
		return nil, err
	}

	regular := lo.Filter(holders, func(h Holder, _ int) bool { return h.Address != OperatorAddress })
	circulating := lo.SumBy(regular, func(h Holder) uint64 { return h.Balance })
	staked := lo.SumBy(regular, func(h Holder) uint64 { return h.StakedBalance })
	revenue := lo.SumBy(
		lo.Filter(purchases, func(p Purchase, _ int) bool { return p.Status == PurchaseConfirmed }),
		func(p Purchase) uint64 { return p.TotalPaidSats },
	)

	treasury := uint64(0)
	if circulating < s.forSale {
		treasury = s.forSale - circulating
	}

	return &TokenStats{
		TotalHolders:     lo.CountBy(regular, func(h Holder) bool { return h.Balance > 0 }),
		TotalStaked:      staked,
		TotalCirculating: circulating,
		TreasuryBalance:  treasury,
		TotalSold:        circulating,
		TotalRevenueSats: revenue,
	}, nil
}

// CapTable lists holders with a positive balance, largest first, with their
// share of the total supply in percent.
func (s *Service) CapTable(ctx context.Context) ([]CapTableEntry, error) {
	holders, err := s.AllHolders(ctx)
	if err != nil {
		return nil, err
	}

	supply := decimalFromUint64(s.totalSupply)
	hundred := decimalFromUint64(100)
	entries := make([]CapTableEntry, 0, len(holders))
	for _, h := range holders {
		if h.Balance == 0 {
			continue
		}
		pct, _ := decimalFromUint64(h.Balance).Div(supply).Mul(hundred).Float64()
		entries = append(entries, CapTableEntry{
			HolderID:   h.ID,
			Address:    h.Address,
			Handle:     h.Handle,
			Balance:    h.Balance,
			Percentage: pct,
		})
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Purchases
// ---------------------------------------------------------------------------

// CreatePurchase records a pending purchase of amount tokens at priceSats each.
func (s *Service) CreatePurchase(ctx context.Context, holderID string, amount, priceSats uint64) (*Purchase, error) {
	var out Purchase
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := s.newPurchase(tx, holderID, amount, priceSats)
		if err != nil {
			return err
		}
		out = p
		return tx.PutPurchase(p)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) newPurchase(tx Tx, holderID string, amount, priceSats uint64) (Purchase, error) {
	if amount == 0 {
		return Purchase{}, ErrInvalidAmount
	}
	hi, total := bits.Mul64(amount, priceSats)
	if hi != 0 || total > math.MaxInt64 {
		return Purchase{}, fmt.Errorf("%w: %d x %d sats", ErrOverflow, amount, priceSats)
	}
	if _, err := tx.Holder(holderID); err != nil {
		return Purchase{}, err
	}
	return Purchase{
		ID:            s.newID(),
		HolderID:      holderID,
		Amount:        amount,
		PriceSats:     priceSats,
		TotalPaidSats: total,
		Status:        PurchasePending,
		CreatedAt:     s.now(),
	}, nil
}

// ConfirmPurchase attaches txID to a pending purchase, marks it confirmed
// and credits the holder.
func (s *Service) ConfirmPurchase(ctx context.Context, purchaseID, txID string) (*Purchase, error) {
	if txID == "" {
		return nil, ErrInvalidTxID
	}
	var out Purchase
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.Purchase(purchaseID)
		if err != nil {
			return err
		}
		if err := s.confirm(tx, &p, txID); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) confirm(tx Tx, p *Purchase, txID string) error {
	if p.Status != PurchasePending {
		return fmt.Errorf("%w: %s", ErrPurchaseNotPending, p.Status)
	}
	used, err := tx.PurchaseByTxID(txID)
	switch {
	case err == nil && used.ID != p.ID:
		return fmt.Errorf("%w: %s confirmed purchase %s", ErrTxAlreadyUsed, txID, used.ID)
	case err != nil && !errors.Is(err, ErrPurchaseNotFound):
		return err
	}
	h, err := tx.Holder(p.HolderID)
	if err != nil {
		return err
	}
	if err := applyDelta(&h, int64(p.Amount)); err != nil {
		return err
	}
	now := s.now()
	h.TotalPurchased += p.Amount
	h.UpdatedAt = now

	p.Status = PurchaseConfirmed
	p.TxID = txID
	p.ConfirmedAt = &now

	if err := tx.PutHolder(h); err != nil {
		return err
	}
	return tx.PutPurchase(*p)
}

// FailPurchase marks a pending purchase failed.
func (s *Service) FailPurchase(ctx context.Context, purchaseID string) (*Purchase, error) {
	var out Purchase
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := tx.Purchase(purchaseID)
		if err != nil {
			return err
		}
		if p.Status != PurchasePending {
			return fmt.Errorf("%w: %s", ErrPurchaseNotPending, p.Status)
		}
		p.Status = PurchaseFailed
		out = p
		return tx.PutPurchase(p)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPurchase returns the purchase with id.
func (s *Service) GetPurchase(ctx context.Context, purchaseID string) (*Purchase, error) {
	var out Purchase
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Purchase(purchaseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessPurchaseImmediate creates and confirms a purchase in one step, for
// payments already verified by the caller.
func (s *Service) ProcessPurchaseImmediate(ctx context.Context, holderID string, amount, priceSats uint64, txID string) (*Purchase, error) {
	if txID == "" {
		return nil, ErrInvalidTxID
	}
	var out Purchase
	err := s.store.Update(ctx, func(tx Tx) error {
		p, err := s.newPurchase(tx, holderID, amount, priceSats)
		if err != nil {
			return err
		}
		if err := s.confirm(tx, &p, txID); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Staking
// ---------------------------------------------------------------------------

// StakeTokens locks amount of the holder's unstaked balance.
func (s *Service) StakeTokens(ctx context.Context, holderID string, amount uint64) (*Stake, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	var out Stake
	err := s.store.Update(ctx, func(tx Tx) error {
		h, err := tx.Holder(holderID)
		if err != nil {
			return err
		}
		if h.Balance-h.StakedBalance < amount {
			return fmt.Errorf("%w: have %d unstaked, need %d", ErrInsufficientBalance, h.Balance-h.StakedBalance, amount)
		}

		now := s.now()
		out = Stake{
			ID:       s.newID(),
			HolderID: holderID,
			Amount:   amount,
			StakedAt: now,
			Status:   StakeActive,
		}
		if err := tx.AddStake(out); err != nil {
			return err
		}
		h.StakedBalance += amount
		h.UpdatedAt = now
		return tx.PutHolder(h)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnstakeTokens releases amount, newest stakes first. A stake larger than
// what remains to release is reduced and stays active.
func (s *Service) UnstakeTokens(ctx context.Context, holderID string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return s.store.Update(ctx, func(tx Tx) error {
		h, err := tx.Holder(holderID)
		if err != nil {
			return err
		}
		if h.StakedBalance < amount {
			return fmt.Errorf("%w: have %d staked, need %d", ErrInsufficientStake, h.StakedBalance, amount)
		}

		stakes, err := tx.Stakes(holderID)
		if err != nil {
			return err
		}

		now := s.now()
		remaining := amount
		for i := len(stakes) - 1; i >= 0 && remaining > 0; i-- {
			st := stakes[i]
			if st.Status != StakeActive {
				continue
			}
			if st.Amount <= remaining {
				remaining -= st.Amount
				st.Status = StakeUnstaked
				st.UnstakedAt = &now
			} else {
				st.Amount -= remaining
				remaining = 0
			}
			if err := tx.UpdateStake(st); err != nil {
				return err
			}
		}

		h.StakedBalance -= amount
		h.UpdatedAt = now
		return tx.PutHolder(h)
	})
}

// HolderStakes returns the holder's active stakes in creation order.
func (s *Service) HolderStakes(ctx context.Context, holderID string) ([]Stake, error) {
	var stakes []Stake
	err := s.store.View(ctx, func(tx Tx) error {
		all, err := tx.Stakes(holderID)
		if err != nil {
			return err
		}
		stakes = lo.Filter(all, func(st Stake, _ int) bool { return st.Status == StakeActive })
		return nil
	})
	return stakes, err
}

// ---------------------------------------------------------------------------
// Dividends
// ---------------------------------------------------------------------------

// DistributeDividends splits totalAmount across holders pro rata to their
// staked balance, creating one pending claim per staker. Each claim is
// floor(staked * totalAmount / totalStaked).
func (s *Service) DistributeDividends(ctx context.Context, totalAmount uint64, sourceTxID string) (*Dividend, error) {
	if totalAmount == 0 {
		return nil, ErrInvalidAmount
	}
	var out Dividend
	err := s.store.Update(ctx, func(tx Tx) error {
		holders, err := tx.Holders()
		if err != nil {
			return err
		}
		sort.Slice(holders, func(i, j int) bool { return holders[i].ID < holders[j].ID })

		var stakers []stakerShare
		for _, h := range holders {
			if h.StakedBalance > 0 {
				stakers = append(stakers, stakerShare{HolderID: h.ID, Staked: h.StakedBalance})
			}
		}
		totalStaked, shares := distribute(totalAmount, stakers)
		if totalStaked == 0 {
			return ErrNoStakedTokens
		}

		d := Dividend{
			ID:             s.newID(),
			TotalAmount:    totalAmount,
			PerTokenAmount: perTokenAmount(totalAmount, totalStaked),
			TotalStaked:    totalStaked,
			SourceTxID:     sourceTxID,
			DistributedAt:  s.now(),
			Claims:         make([]DividendClaim, len(stakers)),
		}
		for i, st := range stakers {
			d.Claims[i] = DividendClaim{
				ID:           s.newID(),
				DividendID:   d.ID,
				HolderID:     st.HolderID,
				Amount:       shares[i],
				StakedAmount: st.Staked,
				Status:       ClaimPending,
			}
		}
		out = d
		return tx.AddDividend(d)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDividend returns a distribution record without its claims.
func (s *Service) GetDividend(ctx context.Context, id string) (*Dividend, error) {
	var out Dividend
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Dividend(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingDividends sums the holder's unclaimed dividend claims.
func (s *Service) PendingDividends(ctx context.Context, holderID string) (uint64, error) {
	var total uint64
	err := s.store.View(ctx, func(tx Tx) error {
		claims, err := tx.Claims(holderID)
		if err != nil {
			return err
		}
		total = sumPending(claims)
		return nil
	})
	return total, err
}

// ClaimDividends marks every pending claim of the holder claimed and adds
// the total to the holder's TotalDividends. It returns the amount claimed.
func (s *Service) ClaimDividends(ctx context.Context, holderID string) (uint64, error) {
	var total uint64
	err := s.store.Update(ctx, func(tx Tx) error {
		h, err := tx.Holder(holderID)
		if err != nil {
			return err
		}
		claims, err := tx.Claims(holderID)
		if err != nil {
			return err
		}

		now := s.now()
		total = 0
		for _, c := range claims {
			if c.Status != ClaimPending {
				continue
			}
			c.Status = ClaimClaimed
			c.ClaimedAt = &now
			total += c.Amount
			if err := tx.UpdateClaim(c); err != nil {
				return err
			}
		}
		if total == 0 {
			return nil
		}
		h.TotalDividends += total
		h.UpdatedAt = now
		return tx.PutHolder(h)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// TotalDividendsEarned returns the holder's claimed dividend total.
func (s *Service) TotalDividendsEarned(ctx context.Context, holderID string) (uint64, error) {
	h, err := s.GetHolderByID(ctx, holderID)
	if err != nil {
		return 0, err
	}
	return h.TotalDividends, nil
}

func sumPending(claims []DividendClaim) uint64 {
	return lo.SumBy(
		lo.Filter(claims, func(c DividendClaim, _ int) bool { return c.Status == ClaimPending }),
		func(c DividendClaim) uint64 { return c.Amount },
	)
}

func sortByBalance(holders []Holder) {
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Balance != holders[j].Balance {
			return holders[i].Balance > holders[j].Balance
		}
		return holders[i].ID < holders[j].ID
	})
}
