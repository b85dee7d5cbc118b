package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"api_marketplace/internal/market"
)

var (
	buyersBucket = []byte("buyers")
	idsBucket    = []byte("transaction_ids")
)

// BoltLedger keeps the ledger in a bbolt file: one nested bucket per buyer whose
// keys are the big-endian creation time followed by the transaction id, so a
// reverse cursor walk yields newest first.
type BoltLedger struct {
	db *bolt.DB
}

// OpenBoltLedger opens (or creates) the ledger file at path.
func OpenBoltLedger(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{buyersBucket, idsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger buckets: %w", err)
	}
	return &BoltLedger{db: db}, nil
}

func entryKey(txn *market.Transaction) []byte {
	key := make([]byte, 8, 8+len(txn.ID))
	binary.BigEndian.PutUint64(key, uint64(txn.CreatedAt.UnixNano()))
	return append(key, txn.ID...)
}

func (l *BoltLedger) Record(ctx context.Context, txn *market.Transaction) error {
	if err := validate(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}

	value, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", txn.ID, err)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(idsBucket)
		if ids.Get([]byte(txn.ID)) != nil {
			return market.ErrAlreadyRecorded
		}
		buyer, err := tx.Bucket(buyersBucket).CreateBucketIfNotExists([]byte(txn.BuyerID))
		if err != nil {
			return err
		}
		key := entryKey(txn)
		if err := buyer.Put(key, value); err != nil {
			return err
		}
		return ids.Put([]byte(txn.ID), []byte(txn.BuyerID))
	})
	return market.Transient(err)
}

func (l *BoltLedger) ListByUser(ctx context.Context, buyerID string) ([]market.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}

	txns := make([]market.Transaction, 0)
	err := l.db.View(func(tx *bolt.Tx) error {
		buyer := tx.Bucket(buyersBucket).Bucket([]byte(buyerID))
		if buyer == nil {
			return nil
		}
		c := buyer.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var txn market.Transaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return fmt.Errorf("corrupt ledger entry %x: %w", k, err)
			}
			txns = append(txns, txn)
		}
		return nil
	})
	if err != nil {
		return nil, market.Transient(err)
	}
	return txns, nil
}

// Close releases the ledger file.
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

var _ Ledger = (*BoltLedger)(nil)
