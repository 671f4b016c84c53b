package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the ledger in process memory. Contents are lost on
// restart; it backs development runs without a database and the tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

var _ Store = (*MemoryStore)(nil)

type memState struct {
	holders    map[string]Holder
	holderKeys map[string]string
	purchases  map[string]Purchase
	purchaseTx map[string]string
	stakes     []Stake
	dividends  map[string]Dividend
	claims     []DividendClaim
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		holders:    make(map[string]Holder),
		holderKeys: make(map[string]string),
		purchases:  make(map[string]Purchase),
		purchaseTx: make(map[string]string),
		dividends:  make(map[string]Dividend),
	}}
}

// View runs fn against the current state.
func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{st: m.state, readOnly: true})
}

// Update runs fn against a copy of the state and installs the copy if fn
// succeeds, so a failed transaction leaves no partial writes.
func (m *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (s *memState) clone() *memState {
	c := &memState{
		holders:    make(map[string]Holder, len(s.holders)),
		holderKeys: make(map[string]string, len(s.holderKeys)),
		purchases:  make(map[string]Purchase, len(s.purchases)),
		purchaseTx: make(map[string]string, len(s.purchaseTx)),
		stakes:     append([]Stake(nil), s.stakes...),
		dividends:  make(map[string]Dividend, len(s.dividends)),
		claims:     append([]DividendClaim(nil), s.claims...),
	}
	for k, v := range s.holders {
		c.holders[k] = v
	}
	for k, v := range s.holderKeys {
		c.holderKeys[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.purchaseTx {
		c.purchaseTx[k] = v
	}
	for k, v := range s.dividends {
		c.dividends[k] = v
	}
	return c
}

type memTx struct {
	st       *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) Holder(id string) (Holder, error) {
	h, ok := t.st.holders[id]
	if !ok {
		return Holder{}, fmt.Errorf("%w: %s", ErrHolderNotFound, id)
	}
	return h, nil
}

func (t *memTx) HolderByKey(key string) (Holder, error) {
	id, ok := t.st.holderKeys[key]
	if !ok {
		return Holder{}, fmt.Errorf("%w: %s", ErrHolderNotFound, key)
	}
	return t.Holder(id)
}

func (t *memTx) Holders() ([]Holder, error) {
	out := make([]Holder, 0, len(t.st.holders))
	for _, h := range t.st.holders {
		out = append(out, h)
	}
	return out, nil
}

func (t *memTx) PutHolder(h Holder) error {
	if err := t.writable(); err != nil {
		return err
	}
	if old, ok := t.st.holders[h.ID]; ok && old.Key() != h.Key() {
		delete(t.st.holderKeys, old.Key())
	}
	t.st.holders[h.ID] = h
	t.st.holderKeys[h.Key()] = h.ID
	return nil
}

func (t *memTx) Purchase(id string) (Purchase, error) {
	p, ok := t.st.purchases[id]
	if !ok {
		return Purchase{}, fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	return p, nil
}

func (t *memTx) PurchaseByTxID(txID string) (Purchase, error) {
	id, ok := t.st.purchaseTx[txID]
	if !ok || txID == "" {
		return Purchase{}, fmt.Errorf("%w: tx %s", ErrPurchaseNotFound, txID)
	}
	return t.Purchase(id)
}

func (t *memTx) Purchases() ([]Purchase, error) {
	out := make([]Purchase, 0, len(t.st.purchases))
	for _, p := range t.st.purchases {
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) PutPurchase(p Purchase) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p.TxID != "" {
		if owner, ok := t.st.purchaseTx[p.TxID]; ok && owner != p.ID {
			return fmt.Errorf("%w: %s", ErrTxAlreadyUsed, p.TxID)
		}
		t.st.purchaseTx[p.TxID] = p.ID
	}
	t.st.purchases[p.ID] = p
	return nil
}

func (t *memTx) Stakes(holderID string) ([]Stake, error) {
	var out []Stake
	for _, s := range t.st.stakes {
		if s.HolderID == holderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) AddStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.stakes = append(t.st.stakes, s)
	return nil
}

func (t *memTx) UpdateStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range t.st.stakes {
		if t.st.stakes[i].ID == s.ID {
			t.st.stakes[i] = s
			return nil
		}
	}
	return fmt.Errorf("ledger: stake %s not found", s.ID)
}

func (t *memTx) AddDividend(d Dividend) error {
	if err := t.writable(); err != nil {
		return err
	}
	stored := d
	stored.Claims = nil
	t.st.dividends[d.ID] = stored
	t.st.claims = append(t.st.claims, d.Claims...)
	return nil
}

func (t *memTx) Dividend(id string) (Dividend, error) {
	d, ok := t.st.dividends[id]
	if !ok {
		return Dividend{}, fmt.Errorf("%w: %s", ErrDividendNotFound, id)
	}
	return d, nil
}

func (t *memTx) Claims(holderID string) ([]DividendClaim, error) {
	var out []DividendClaim
	for _, c := range t.st.claims {
		if c.HolderID == holderID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memTx) UpdateClaim(c DividendClaim) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range t.st.claims {
		if t.st.claims[i].ID == c.ID {
			t.st.claims[i] = c
			return nil
		}
	}
	return fmt.Errorf("ledger: claim %s not found", c.ID)
}
