package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the wallet a holder signed in with.
type Provider string

const (
	ProviderYours    Provider = "yours"
	ProviderHandCash Provider = "handcash"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderYours || p == ProviderHandCash
}

// OperatorAddress marks the operator's own ledger row, excluded from circulation.
const OperatorAddress = "operator"

// Holder is an off-chain token balance. Balances never go negative and
// StakedBalance never exceeds Balance.
type Holder struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	OrdinalsAddress string    `json:"ordinalsAddress,omitempty"`
	Handle          string    `json:"handle,omitempty"`
	Provider        Provider  `json:"provider"`
	Balance         uint64    `json:"balance"`
	StakedBalance   uint64    `json:"stakedBalance"`
	TotalPurchased  uint64    `json:"totalPurchased"`
	TotalWithdrawn  uint64    `json:"totalWithdrawn"`
	TotalDividends  uint64    `json:"totalDividends"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HolderKey is the identity key of a holder: the HandCash handle for
// HandCash holders, the address otherwise.
func HolderKey(provider Provider, address, handle string) string {
	if provider == ProviderHandCash {
		return "handcash:" + handle
	}
	return "ord:" + address
}

// Key returns the holder's identity key.
func (h Holder) Key() string {
	return HolderKey(h.Provider, h.Address, h.Handle)
}

// OnChainAddress is the address whose on-chain token balance should equal
// Balance: the ordinals address when set, else Address.
func (h Holder) OnChainAddress() string {
	if h.OrdinalsAddress != "" {
		return h.OrdinalsAddress
	}
	return h.Address
}

// PurchaseStatus is the purchase lifecycle state.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Purchase is a token sale. TotalPaidSats == Amount * PriceSats; confirmed
// and failed purchases are immutable.
type Purchase struct {
	ID            string         `json:"id"`
	HolderID      string         `json:"holderId"`
	Amount        uint64         `json:"amount"`
	PriceSats     uint64         `json:"priceSats"`
	TotalPaidSats uint64         `json:"totalPaidSats"`
	TxID          string         `json:"txId,omitempty"`
	Status        PurchaseStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	ConfirmedAt   *time.Time     `json:"confirmedAt,omitempty"`
}

// StakeStatus is the stake lifecycle state.
type StakeStatus string

const (
	StakeActive   StakeStatus = "active"
	StakeUnstaked StakeStatus = "unstaked"
)

// Stake is a lock of part of a holder's balance.
type Stake struct {
	ID         string      `json:"id"`
	HolderID   string      `json:"holderId"`
	Amount     uint64      `json:"amount"`
	StakedAt   time.Time   `json:"stakedAt"`
	UnstakedAt *time.Time  `json:"unstakedAt,omitempty"`
	Status     StakeStatus `json:"status"`
}

// ClaimStatus is the dividend claim state.
type ClaimStatus string

const (
	ClaimPending ClaimStatus = "pending"
	ClaimClaimed ClaimStatus = "claimed"
)

// Dividend is one distribution to stakers. The claims never sum to more
// than TotalAmount.
type Dividend struct {
	ID             string          `json:"id"`
	TotalAmount    uint64          `json:"totalAmount"`
	PerTokenAmount decimal.Decimal `json:"perTokenAmount"`
	TotalStaked    uint64          `json:"totalStaked"`
	SourceTxID     string          `json:"sourceTxId,omitempty"`
	DistributedAt  time.Time       `json:"distributedAt"`
	Claims         []DividendClaim `json:"claims"`
}

// DividendClaim is a holder's share of a dividend.
type DividendClaim struct {
	ID           string      `json:"id"`
	DividendID   string      `json:"dividendId"`
	HolderID     string      `json:"holderId"`
	Amount       uint64      `json:"amount"`
	StakedAmount uint64      `json:"stakedAtTime"`
	ClaimedAt    *time.Time  `json:"claimedAt,omitempty"`
	Status       ClaimStatus `json:"status"`
}

// TokenStats summarises the ledger.
type TokenStats struct {
	TotalHolders     int    `json:"totalHolders"`
	TotalStaked      uint64 `json:"totalStaked"`
	TotalCirculating uint64 `json:"totalCirculating"`
	TreasuryBalance  uint64 `json:"treasuryBalance"`
	TotalSold        uint64 `json:"totalSold"`
	TotalRevenueSats uint64 `json:"totalRevenueSats"`
}

// CapTableEntry is one row of the cap table.
type CapTableEntry struct {
	HolderID   string  `json:"holderId"`
	Address    string  `json:"address"`
	Handle     string  `json:"handle,omitempty"`
	Balance    uint64  `json:"balance"`
	Percentage float64 `json:"percentage"`
}
