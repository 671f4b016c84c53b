package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxConns is the pool size used when PostgresConfig.MaxConns is zero.
	DefaultMaxConns = 16

	// serializationRetries bounds how often Update re-runs a transaction
	// aborted by a serialization conflict.
	serializationRetries = 3

	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"

	purchasesTxIDIndex = "purchases_tx_id_key"
)

// PostgresConfig configures the Postgres ledger backend.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// PostgresStore persists the ledger in Postgres. Update transactions run
// at SERIALIZABLE isolation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool and verifies it with a ping. The schema
// must already be migrated, see MigrateUp.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse database url: %w", err)
	}
	poolCfg.MaxConns = DefaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: connect to database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// View runs fn in a read-only transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn, true)
}

// Update runs fn in a serializable transaction, retrying on serialization failures.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		err = s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn, false)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error, readOnly bool) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{ctx: ctx, tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}

// toInt64 converts a ledger amount to a BIGINT column value.
func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds BIGINT", ErrOverflow, v)
	}
	return int64(v), nil
}

func toInt64s(vs ...uint64) ([]int64, error) {
	out := make([]int64, len(vs))
	for i, v := range vs {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

const holderColumns = `id, address, ordinals_address, handle, provider, balance, staked_balance,
	total_purchased, total_withdrawn, total_dividends, created_at, updated_at`

func scanHolder(row pgx.Row) (Holder, error) {
	var (
		h                                           Holder
		provider                                    string
		balance, staked, purchased, withdrawn, divs int64
	)
	err := row.Scan(&h.ID, &h.Address, &h.OrdinalsAddress, &h.Handle, &provider,
		&balance, &staked, &purchased, &withdrawn, &divs, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return Holder{}, err
	}
	h.Provider = Provider(provider)
	h.Balance = uint64(balance)
	h.StakedBalance = uint64(staked)
	h.TotalPurchased = uint64(purchased)
	h.TotalWithdrawn = uint64(withdrawn)
	h.TotalDividends = uint64(divs)
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	return h, nil
}

func (t *pgTx) holderWhere(where string, arg string) (Holder, error) {
	h, err := scanHolder(t.tx.QueryRow(t.ctx, `SELECT `+holderColumns+` FROM holders WHERE `+where+` = $1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Holder{}, fmt.Errorf("%w: %s", ErrHolderNotFound, arg)
	}
	if err != nil {
		return Holder{}, fmt.Errorf("ledger: query holder: %w", err)
	}
	return h, nil
}

func (t *pgTx) Holder(id string) (Holder, error) { return t.holderWhere("id", id) }

func (t *pgTx) HolderByKey(key string) (Holder, error) { return t.holderWhere("holder_key", key) }

func (t *pgTx) Holders() ([]Holder, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT `+holderColumns+` FROM holders`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query holders: %w", err)
	}
	defer rows.Close()

	var out []Holder
	for rows.Next() {
		h, err := scanHolder(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan holder: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) PutHolder(h Holder) error {
	if err := t.writable(); err != nil {
		return err
	}
	n, err := toInt64s(h.Balance, h.StakedBalance, h.TotalPurchased, h.TotalWithdrawn, h.TotalDividends)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO holders (id, holder_key, address, ordinals_address, handle, provider, balance,
			staked_balance, total_purchased, total_withdrawn, total_dividends, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			holder_key = EXCLUDED.holder_key,
			address = EXCLUDED.address,
			ordinals_address = EXCLUDED.ordinals_address,
			handle = EXCLUDED.handle,
			provider = EXCLUDED.provider,
			balance = EXCLUDED.balance,
			staked_balance = EXCLUDED.staked_balance,
			total_purchased = EXCLUDED.total_purchased,
			total_withdrawn = EXCLUDED.total_withdrawn,
			total_dividends = EXCLUDED.total_dividends,
			updated_at = EXCLUDED.updated_at`,
		h.ID, h.Key(), h.Address, h.OrdinalsAddress, h.Handle, string(h.Provider),
		n[0], n[1], n[2], n[3], n[4], h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: upsert holder: %w", err)
	}
	return nil
}

const purchaseColumns = `id, holder_id, amount, price_sats, total_paid_sats, tx_id, status, created_at, confirmed_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var (
		p                    Purchase
		status               string
		amount, price, total int64
	)
	err := row.Scan(&p.ID, &p.HolderID, &amount, &price, &total, &p.TxID, &status, &p.CreatedAt, &p.ConfirmedAt)
	if err != nil {
		return Purchase{}, err
	}
	p.Status = PurchaseStatus(status)
	p.Amount = uint64(amount)
	p.PriceSats = uint64(price)
	p.TotalPaidSats = uint64(total)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ConfirmedAt = utcPtr(p.ConfirmedAt)
	return p, nil
}

func (t *pgTx) Purchase(id string) (Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(t.ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	if err != nil {
		return Purchase{}, fmt.Errorf("ledger: query purchase: %w", err)
	}
	return p, nil
}

func (t *pgTx) PurchaseByTxID(txID string) (Purchase, error) {
	if txID == "" {
		return Purchase{}, fmt.Errorf("%w: empty tx", ErrPurchaseNotFound)
	}
	p, err := scanPurchase(t.tx.QueryRow(t.ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE tx_id = $1`, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, fmt.Errorf("%w: tx %s", ErrPurchaseNotFound, txID)
	}
	if err != nil {
		return Purchase{}, fmt.Errorf("ledger: query purchase by tx: %w", err)
	}
	return p, nil
}

func (t *pgTx) Purchases() ([]Purchase, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT `+purchaseColumns+` FROM purchases`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query purchases: %w", err)
	}
	defer rows.Close()

	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) PutPurchase(p Purchase) error {
	if err := t.writable(); err != nil {
		return err
	}
	n, err := toInt64s(p.Amount, p.PriceSats, p.TotalPaidSats)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			status = EXCLUDED.status,
			confirmed_at = EXCLUDED.confirmed_at`,
		p.ID, p.HolderID, n[0], n[1], n[2], p.TxID, string(p.Status), p.CreatedAt, p.ConfirmedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == purchasesTxIDIndex {
		return fmt.Errorf("%w: %s", ErrTxAlreadyUsed, p.TxID)
	}
	if err != nil {
		return fmt.Errorf("ledger: upsert purchase: %w", err)
	}
	return nil
}

func (t *pgTx) Stakes(holderID string) ([]Stake, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, holder_id, amount, status, staked_at, unstaked_at
		FROM stakes WHERE holder_id = $1 ORDER BY seq`, holderID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query stakes: %w", err)
	}
	defer rows.Close()

	var out []Stake
	for rows.Next() {
		var (
			s      Stake
			status string
			amount int64
		)
		if err := rows.Scan(&s.ID, &s.HolderID, &amount, &status, &s.StakedAt, &s.UnstakedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan stake: %w", err)
		}
		s.Amount = uint64(amount)
		s.Status = StakeStatus(status)
		s.StakedAt = s.StakedAt.UTC()
		s.UnstakedAt = utcPtr(s.UnstakedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) AddStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	amount, err := toInt64(s.Amount)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO stakes (id, holder_id, amount, status, staked_at, unstaked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.HolderID, amount, string(s.Status), s.StakedAt, s.UnstakedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert stake: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	amount, err := toInt64(s.Amount)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `UPDATE stakes SET amount = $2, status = $3, unstaked_at = $4 WHERE id = $1`,
		s.ID, amount, string(s.Status), s.UnstakedAt)
	if err != nil {
		return fmt.Errorf("ledger: update stake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: stake %s not found", s.ID)
	}
	return nil
}

func (t *pgTx) AddDividend(d Dividend) error {
	if err := t.writable(); err != nil {
		return err
	}
	n, err := toInt64s(d.TotalAmount, d.TotalStaked)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO dividends (id, total_amount, per_token_amount, total_staked, source_tx_id, distributed_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)`,
		d.ID, n[0], d.PerTokenAmount.String(), n[1], d.SourceTxID, d.DistributedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert dividend: %w", err)
	}

	for _, c := range d.Claims {
		cn, err := toInt64s(c.Amount, c.StakedAmount)
		if err != nil {
			return err
		}
		_, err = t.tx.Exec(t.ctx, `
			INSERT INTO dividend_claims (id, dividend_id, holder_id, amount, staked_amount, status, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, d.ID, c.HolderID, cn[0], cn[1], string(c.Status), c.ClaimedAt)
		if err != nil {
			return fmt.Errorf("ledger: insert dividend claim: %w", err)
		}
	}
	return nil
}

func (t *pgTx) Dividend(id string) (Dividend, error) {
	var (
		d                  Dividend
		perToken           string
		total, totalStaked int64
	)
	err := t.tx.QueryRow(t.ctx, `
		SELECT id, total_amount, per_token_amount::text, total_staked, source_tx_id, distributed_at
		FROM dividends WHERE id = $1`, id).
		Scan(&d.ID, &total, &perToken, &totalStaked, &d.SourceTxID, &d.DistributedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dividend{}, fmt.Errorf("%w: %s", ErrDividendNotFound, id)
		}
		return Dividend{}, fmt.Errorf("ledger: query dividend: %w", err)
	}
	if d.PerTokenAmount, err = decimal.NewFromString(perToken); err != nil {
		return Dividend{}, fmt.Errorf("ledger: parse per-token amount: %w", err)
	}
	d.TotalAmount = uint64(total)
	d.TotalStaked = uint64(totalStaked)
	d.DistributedAt = d.DistributedAt.UTC()
	return d, nil
}

func (t *pgTx) Claims(holderID string) ([]DividendClaim, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, dividend_id, holder_id, amount, staked_amount, status, claimed_at
		FROM dividend_claims WHERE holder_id = $1 ORDER BY seq`, holderID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query claims: %w", err)
	}
	defer rows.Close()

	var out []DividendClaim
	for rows.Next() {
		var (
			c              DividendClaim
			status         string
			amount, staked int64
		)
		if err := rows.Scan(&c.ID, &c.DividendID, &c.HolderID, &amount, &staked, &status, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan claim: %w", err)
		}
		c.Amount = uint64(amount)
		c.StakedAmount = uint64(staked)
		c.Status = ClaimStatus(status)
		c.ClaimedAt = utcPtr(c.ClaimedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateClaim(c DividendClaim) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `UPDATE dividend_claims SET status = $2, claimed_at = $3 WHERE id = $1`,
		c.ID, string(c.Status), c.ClaimedAt)
	if err != nil {
		return fmt.Errorf("ledger: update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: claim %s not found", c.ID)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
