package ledger

import "context"

// Store is a transactional ledger backend. Implementations: MemoryStore,
// BoltStore and PostgresStore. Record types are passed by value so a
// transaction never aliases stored state.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction, committed only if fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Tx is the record-level API available inside a Store transaction.
type Tx interface {
	Holder(id string) (Holder, error)
	HolderByKey(key string) (Holder, error)
	Holders() ([]Holder, error)
	// PutHolder inserts or replaces the holder with h.ID and indexes h.Key().
	PutHolder(h Holder) error

	Purchase(id string) (Purchase, error)
	// PurchaseByTxID returns the purchase the transaction id is attached to,
	// or ErrPurchaseNotFound.
	PurchaseByTxID(txID string) (Purchase, error)
	Purchases() ([]Purchase, error)
	// PutPurchase stores p. A TxID attached to a different purchase is
	// rejected with ErrTxAlreadyUsed.
	PutPurchase(p Purchase) error

	// Stakes returns every stake of a holder in creation order.
	Stakes(holderID string) ([]Stake, error)
	AddStake(s Stake) error
	UpdateStake(s Stake) error

	// AddDividend stores d together with its claims.
	AddDividend(d Dividend) error
	// Dividend returns a stored dividend without its claims.
	Dividend(id string) (Dividend, error)
	// Claims returns every claim of a holder in creation order.
	Claims(holderID string) ([]DividendClaim, error)
	UpdateClaim(c DividendClaim) error
}
