package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketHolders    = []byte("holders")
	bucketHolderKeys = []byte("holder_keys")
	bucketPurchases  = []byte("purchases")
	bucketPurchaseTx = []byte("purchase_tx")
	bucketStakes     = []byte("stakes")
	bucketStakeIndex = []byte("stake_index")
	bucketDividends  = []byte("dividends")
	bucketClaims     = []byte("claims")
	bucketClaimIndex = []byte("claim_index")
)

// BoltStore persists the ledger in a single bbolt file. Stakes and claims
// are keyed by a bucket sequence so iteration follows creation order.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketHolders, bucketHolderKeys, bucketPurchases, bucketPurchaseTx, bucketStakes,
			bucketStakeIndex, bucketDividends, bucketClaims, bucketClaimIndex,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// View runs fn in a bbolt read transaction.
func (s *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx, readOnly: true})
	})
}

// Update runs fn in a bbolt read-write transaction.
func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// seqKey encodes a bucket sequence as an 8-byte big-endian key for sorted storage.
func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

type boltTx struct {
	tx       *bbolt.Tx
	readOnly bool
}

func (t *boltTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *boltTx) put(bucket []byte, key []byte, v interface{}) error {
	data, err := encodeGob(v)
	if err != nil {
		return fmt.Errorf("boltstore: encode %s: %w", bucket, err)
	}
	if err := t.tx.Bucket(bucket).Put(key, data); err != nil {
		return fmt.Errorf("boltstore: put %s: %w", bucket, err)
	}
	return nil
}

func (t *boltTx) Holder(id string) (Holder, error) {
	data := t.tx.Bucket(bucketHolders).Get([]byte(id))
	if data == nil {
		return Holder{}, fmt.Errorf("%w: %s", ErrHolderNotFound, id)
	}
	var h Holder
	if err := decodeGob(data, &h); err != nil {
		return Holder{}, fmt.Errorf("boltstore: decode holder: %w", err)
	}
	return h, nil
}

func (t *boltTx) HolderByKey(key string) (Holder, error) {
	id := t.tx.Bucket(bucketHolderKeys).Get([]byte(key))
	if id == nil {
		return Holder{}, fmt.Errorf("%w: %s", ErrHolderNotFound, key)
	}
	return t.Holder(string(id))
}

func (t *boltTx) Holders() ([]Holder, error) {
	var out []Holder
	err := t.tx.Bucket(bucketHolders).ForEach(func(_, v []byte) error {
		var h Holder
		if err := decodeGob(v, &h); err != nil {
			return fmt.Errorf("boltstore: decode holder: %w", err)
		}
		out = append(out, h)
		return nil
	})
	return out, err
}

func (t *boltTx) PutHolder(h Holder) error {
	if err := t.writable(); err != nil {
		return err
	}
	keys := t.tx.Bucket(bucketHolderKeys)
	if old, err := t.Holder(h.ID); err == nil && old.Key() != h.Key() {
		if err := keys.Delete([]byte(old.Key())); err != nil {
			return fmt.Errorf("boltstore: delete holder key: %w", err)
		}
	}
	if err := t.put(bucketHolders, []byte(h.ID), h); err != nil {
		return err
	}
	if err := keys.Put([]byte(h.Key()), []byte(h.ID)); err != nil {
		return fmt.Errorf("boltstore: put holder key: %w", err)
	}
	return nil
}

func (t *boltTx) Purchase(id string) (Purchase, error) {
	data := t.tx.Bucket(bucketPurchases).Get([]byte(id))
	if data == nil {
		return Purchase{}, fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	var p Purchase
	if err := decodeGob(data, &p); err != nil {
		return Purchase{}, fmt.Errorf("boltstore: decode purchase: %w", err)
	}
	return p, nil
}

func (t *boltTx) PurchaseByTxID(txID string) (Purchase, error) {
	var id []byte
	if txID != "" {
		id = t.tx.Bucket(bucketPurchaseTx).Get([]byte(txID))
	}
	if id == nil {
		return Purchase{}, fmt.Errorf("%w: tx %s", ErrPurchaseNotFound, txID)
	}
	return t.Purchase(string(id))
}

func (t *boltTx) Purchases() ([]Purchase, error) {
	var out []Purchase
	err := t.tx.Bucket(bucketPurchases).ForEach(func(_, v []byte) error {
		var p Purchase
		if err := decodeGob(v, &p); err != nil {
			return fmt.Errorf("boltstore: decode purchase: %w", err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (t *boltTx) PutPurchase(p Purchase) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p.TxID != "" {
		index := t.tx.Bucket(bucketPurchaseTx)
		if owner := index.Get([]byte(p.TxID)); owner != nil && string(owner) != p.ID {
			return fmt.Errorf("%w: %s", ErrTxAlreadyUsed, p.TxID)
		}
		if err := index.Put([]byte(p.TxID), []byte(p.ID)); err != nil {
			return fmt.Errorf("boltstore: index purchase tx: %w", err)
		}
	}
	return t.put(bucketPurchases, []byte(p.ID), p)
}

func (t *boltTx) Stakes(holderID string) ([]Stake, error) {
	var out []Stake
	err := t.tx.Bucket(bucketStakes).ForEach(func(_, v []byte) error {
		var s Stake
		if err := decodeGob(v, &s); err != nil {
			return fmt.Errorf("boltstore: decode stake: %w", err)
		}
		if s.HolderID == holderID {
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

func (t *boltTx) AddStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.appendSeq(bucketStakes, bucketStakeIndex, s.ID, s)
}

func (t *boltTx) UpdateStake(s Stake) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.replaceSeq(bucketStakes, bucketStakeIndex, s.ID, s)
}

func (t *boltTx) AddDividend(d Dividend) error {
	if err := t.writable(); err != nil {
		return err
	}
	claims := d.Claims
	d.Claims = nil
	if err := t.put(bucketDividends, []byte(d.ID), d); err != nil {
		return err
	}
	for _, c := range claims {
		if err := t.appendSeq(bucketClaims, bucketClaimIndex, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) Dividend(id string) (Dividend, error) {
	data := t.tx.Bucket(bucketDividends).Get([]byte(id))
	if data == nil {
		return Dividend{}, fmt.Errorf("%w: %s", ErrDividendNotFound, id)
	}
	var d Dividend
	if err := decodeGob(data, &d); err != nil {
		return Dividend{}, fmt.Errorf("boltstore: decode dividend: %w", err)
	}
	return d, nil
}

func (t *boltTx) Claims(holderID string) ([]DividendClaim, error) {
	var out []DividendClaim
	err := t.tx.Bucket(bucketClaims).ForEach(func(_, v []byte) error {
		var c DividendClaim
		if err := decodeGob(v, &c); err != nil {
			return fmt.Errorf("boltstore: decode claim: %w", err)
		}
		if c.HolderID == holderID {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (t *boltTx) UpdateClaim(c DividendClaim) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.replaceSeq(bucketClaims, bucketClaimIndex, c.ID, c)
}

// appendSeq stores v under the bucket's next sequence and indexes id to it.
func (t *boltTx) appendSeq(bucket, index []byte, id string, v interface{}) error {
	n, err := t.tx.Bucket(bucket).NextSequence()
	if err != nil {
		return fmt.Errorf("boltstore: next sequence %s: %w", bucket, err)
	}
	key := seqKey(n)
	if err := t.put(bucket, key, v); err != nil {
		return err
	}
	if err := t.tx.Bucket(index).Put([]byte(id), key); err != nil {
		return fmt.Errorf("boltstore: put %s: %w", index, err)
	}
	return nil
}

// replaceSeq overwrites the record previously stored by appendSeq under id.
func (t *boltTx) replaceSeq(bucket, index []byte, id string, v interface{}) error {
	key := t.tx.Bucket(index).Get([]byte(id))
	if key == nil {
		return fmt.Errorf("ledger: %s record %s not found", bucket, id)
	}
	return t.put(bucket, append([]byte(nil), key...), v)
}
