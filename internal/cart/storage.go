// Package cart keeps per-user carts of weak product references.
package cart

import (
	"context"
	"sync"

	"api_marketplace/internal/market"
)

// Storage is the cart persistence layer. Upsert is the only way to add entries and
// accumulates the quantity when the user already has the product in the cart.
type Storage interface {
	Upsert(ctx context.Context, entry market.CartEntry) (market.CartEntry, error)
	Get(ctx context.Context, entryID string) (market.CartEntry, error)
	ListByUser(ctx context.Context, userID string) ([]market.CartEntry, error)
	SetQuantity(ctx context.Context, entryID string, quantity int) error
	Delete(ctx context.Context, entryID string) error
	DeleteByUser(ctx context.Context, userID string) (int, error)
	DeleteByProduct(ctx context.Context, productID string) (int, error)
	// ProductIDs returns every distinct product referenced by some cart.
	ProductIDs(ctx context.Context) ([]string, error)
}

type userCart struct {
	mu        sync.Mutex
	byProduct map[string]market.CartEntry
}

// LocalStorage is the in-memory Storage. Each user's cart has its own lock; the
// store lock only guards the cart map and the entry owner index and is never held
// while waiting for a cart lock.
type LocalStorage struct {
	mu     sync.RWMutex
	carts  map[string]*userCart
	owners map[string]string // entry id -> user id
}

// NewLocalStorage instantiates a new LocalStorage with empty maps.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		carts:  map[string]*userCart{},
		owners: map[string]string{},
	}
}

func (l *LocalStorage) cartFor(userID string, create bool) *userCart {
	l.mu.RLock()
	c, ok := l.carts[userID]
	l.mu.RUnlock()
	if ok || !create {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.carts[userID]; !ok {
		c = &userCart{byProduct: map[string]market.CartEntry{}}
		l.carts[userID] = c
	}
	return c
}

func (l *LocalStorage) owner(entryID string) (*userCart, bool) {
	l.mu.RLock()
	userID, ok := l.owners[entryID]
	c := l.carts[userID]
	l.mu.RUnlock()
	return c, ok && c != nil
}

func (l *LocalStorage) Upsert(ctx context.Context, entry market.CartEntry) (market.CartEntry, error) {
	if entry.ID == "" || entry.UserID == "" || entry.ProductID == "" {
		return market.CartEntry{}, market.ErrInvalidInput
	}
	if entry.Quantity <= 0 {
		return market.CartEntry{}, market.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return market.CartEntry{}, market.Transient(err)
	}

	c := l.cartFor(entry.UserID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byProduct[entry.ProductID]; ok {
		existing.Quantity += entry.Quantity
		c.byProduct[entry.ProductID] = existing
		return existing, nil
	}

	c.byProduct[entry.ProductID] = entry
	l.mu.Lock()
	l.owners[entry.ID] = entry.UserID
	l.mu.Unlock()
	return entry, nil
}

// Get returns ErrNotFound if the entry is not found.
func (l *LocalStorage) Get(ctx context.Context, entryID string) (market.CartEntry, error) {
	if err := ctx.Err(); err != nil {
		return market.CartEntry{}, market.Transient(err)
	}
	c, ok := l.owner(entryID)
	if !ok {
		return market.CartEntry{}, market.ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byProduct {
		if e.ID == entryID {
			return e, nil
		}
	}
	return market.CartEntry{}, market.ErrNotFound
}

func (l *LocalStorage) ListByUser(ctx context.Context, userID string) ([]market.CartEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}
	entries := make([]market.CartEntry, 0)
	c := l.cartFor(userID, false)
	if c == nil {
		return entries, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byProduct {
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *LocalStorage) SetQuantity(ctx context.Context, entryID string, quantity int) error {
	if quantity <= 0 {
		return market.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}
	c, ok := l.owner(entryID)
	if !ok {
		return market.ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for pid, e := range c.byProduct {
		if e.ID == entryID {
			e.Quantity = quantity
			c.byProduct[pid] = e
			return nil
		}
	}
	return market.ErrNotFound
}

func (l *LocalStorage) Delete(ctx context.Context, entryID string) error {
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}
	c, ok := l.owner(entryID)
	if !ok {
		return market.ErrNotFound
	}

	c.mu.Lock()
	found := false
	for pid, e := range c.byProduct {
		if e.ID == entryID {
			delete(c.byProduct, pid)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return market.ErrNotFound
	}

	l.mu.Lock()
	delete(l.owners, entryID)
	l.mu.Unlock()
	return nil
}

func (l *LocalStorage) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, market.Transient(err)
	}
	c := l.cartFor(userID, false)
	if c == nil {
		return 0, nil
	}

	c.mu.Lock()
	removed := make([]string, 0, len(c.byProduct))
	for pid, e := range c.byProduct {
		removed = append(removed, e.ID)
		delete(c.byProduct, pid)
	}
	c.mu.Unlock()

	l.forget(removed)
	return len(removed), nil
}

func (l *LocalStorage) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, market.Transient(err)
	}

	l.mu.RLock()
	carts := make([]*userCart, 0, len(l.carts))
	for _, c := range l.carts {
		carts = append(carts, c)
	}
	l.mu.RUnlock()

	removed := make([]string, 0)
	for _, c := range carts {
		c.mu.Lock()
		if e, ok := c.byProduct[productID]; ok {
			removed = append(removed, e.ID)
			delete(c.byProduct, productID)
		}
		c.mu.Unlock()
	}

	l.forget(removed)
	return len(removed), nil
}

func (l *LocalStorage) ProductIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}

	l.mu.RLock()
	carts := make([]*userCart, 0, len(l.carts))
	for _, c := range l.carts {
		carts = append(carts, c)
	}
	l.mu.RUnlock()

	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, c := range carts {
		c.mu.Lock()
		for pid := range c.byProduct {
			if _, ok := seen[pid]; !ok {
				seen[pid] = struct{}{}
				ids = append(ids, pid)
			}
		}
		c.mu.Unlock()
	}
	return ids, nil
}

func (l *LocalStorage) forget(entryIDs []string) {
	if len(entryIDs) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range entryIDs {
		delete(l.owners, id)
	}
}

var _ Storage = (*LocalStorage)(nil)
