package ledger

import "errors"

var (
	// ErrHolderNotFound indicates no holder matches the given id, address or handle.
	ErrHolderNotFound = errors.New("ledger: holder not found")

	// ErrInvalidHolder indicates missing identity fields for the holder's provider.
	ErrInvalidHolder = errors.New("ledger: invalid holder identity")

	// ErrPurchaseNotFound indicates no purchase has the given id.
	ErrPurchaseNotFound = errors.New("ledger: purchase not found")

	// ErrPurchaseNotPending indicates a transition from a terminal purchase state.
	ErrPurchaseNotPending = errors.New("ledger: purchase is not pending")

	// ErrDividendNotFound indicates no dividend has the given id.
	ErrDividendNotFound = errors.New("ledger: dividend not found")

	// ErrInvalidAmount indicates a zero amount where a positive one is required.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrOverflow indicates an amount or total exceeds the representable range.
	ErrOverflow = errors.New("ledger: amount overflows")

	// ErrTxAlreadyUsed indicates the transaction id already confirmed another purchase.
	ErrTxAlreadyUsed = errors.New("ledger: transaction id already used")

	// ErrInvalidTxID indicates an empty transaction id on confirmation.
	ErrInvalidTxID = errors.New("ledger: transaction id required")

	// ErrInsufficientBalance indicates the unstaked balance cannot cover the request.
	ErrInsufficientBalance = errors.New("ledger: insufficient unstaked balance")

	// ErrInsufficientStake indicates an unstake larger than the staked balance.
	ErrInsufficientStake = errors.New("ledger: insufficient staked balance")

	// ErrNoStakedTokens indicates a dividend distribution with nothing staked.
	ErrNoStakedTokens = errors.New("ledger: no staked tokens to distribute to")

	// ErrReadOnly indicates a write attempted inside a View transaction.
	ErrReadOnly = errors.New("ledger: write in read-only transaction")
)
