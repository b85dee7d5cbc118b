// Package ledger is the append-only purchase history, keyed by buyer.
package ledger

import (
	"context"
	"sort"
	"sync"

	"api_marketplace/internal/market"
)

// Ledger records terminal transactions. Entries are never updated or deleted.
type Ledger interface {
	Record(ctx context.Context, txn *market.Transaction) error
	// ListByUser returns the buyer's transactions, newest first.
	ListByUser(ctx context.Context, buyerID string) ([]market.Transaction, error)
}

func validate(txn *market.Transaction) error {
	if txn == nil || txn.ID == "" || txn.BuyerID == "" || txn.ProductID == "" {
		return market.ErrInvalidInput
	}
	if !txn.Status.IsTerminal() {
		return market.ErrInvalidTransition
	}
	return nil
}

func sortNewestFirst(txns []market.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
}

// LocalLedger is the in-memory Ledger.
type LocalLedger struct {
	mu      sync.RWMutex
	byBuyer map[string][]market.Transaction
	ids     map[string]struct{}
}

// NewLocalLedger instantiates a new LocalLedger with empty maps.
func NewLocalLedger() *LocalLedger {
	return &LocalLedger{
		byBuyer: map[string][]market.Transaction{},
		ids:     map[string]struct{}{},
	}
}

func (l *LocalLedger) Record(ctx context.Context, txn *market.Transaction) error {
	if err := validate(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[txn.ID]; dup {
		return market.ErrAlreadyRecorded
	}
	l.ids[txn.ID] = struct{}{}
	l.byBuyer[txn.BuyerID] = append(l.byBuyer[txn.BuyerID], *txn)
	return nil
}

func (l *LocalLedger) ListByUser(ctx context.Context, buyerID string) ([]market.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}

	l.mu.RLock()
	txns := make([]market.Transaction, len(l.byBuyer[buyerID]))
	copy(txns, l.byBuyer[buyerID])
	l.mu.RUnlock()

	sortNewestFirst(txns)
	return txns, nil
}

var _ Ledger = (*LocalLedger)(nil)
