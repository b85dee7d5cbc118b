// Package inventory is the source of truth for products and their availability flag.
package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"api_marketplace/internal/market"
)

// Store is the main interface for the product inventory.
type Store interface {
	GetProduct(ctx context.Context, id string) (*market.Product, error)
	// SetAvailability flips the availability flag only if it currently equals expected.
	SetAvailability(ctx context.Context, id string, expected, available bool) error
	ListAvailable(ctx context.Context, filter market.ProductFilter) ([]*market.Product, int, error)
	// ListBySeller returns every product of sellerID whatever its availability, newest first.
	ListBySeller(ctx context.Context, sellerID string) ([]*market.Product, error)
	CreateProduct(ctx context.Context, p *market.Product) error
	// UpdatePrice reprices an available product. Sold or unlisted products keep
	// their price and yield ErrUnavailable.
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error
}

// record pairs a product with the lock that guards its availability flag.
type record struct {
	mu sync.Mutex
	p  market.Product
}

// LocalStorage provides an in-memory implementation of Store.
// The map lock is only held to find a record; the compare-and-set runs under the
// record's own mutex, so purchases of different products never contend.
type LocalStorage struct {
	mu  sync.RWMutex
	m   map[string]*record
	now func() time.Time
}

// NewLocalStorage instantiates a new LocalStorage with an empty map.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m:   map[string]*record{},
		now: time.Now,
	}
}

func (l *LocalStorage) lookup(id string) (*record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.m[id]
	return r, ok
}

// CreateProduct stores p. Returns ErrInvalidProduct if the product has an empty ID
// or the ID is already taken.
func (l *LocalStorage) CreateProduct(ctx context.Context, p *market.Product) error {
	if p == nil || p.ID == "" {
		return market.ErrInvalidProduct
	}
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.m[p.ID]; exists {
		return market.ErrInvalidProduct
	}
	l.m[p.ID] = &record{p: *p}
	return nil
}

// GetProduct returns a copy of the stored product.
// Returns ErrNotFound if the product is not found.
func (l *LocalStorage) GetProduct(ctx context.Context, id string) (*market.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}
	r, ok := l.lookup(id)
	if !ok {
		return nil, market.ErrNotFound
	}

	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	return &p, nil
}

// SetAvailability is the compare-and-set on the availability flag.
func (l *LocalStorage) SetAvailability(ctx context.Context, id string, expected, available bool) error {
	if available && !expected {
		return market.ErrInvalidTransition
	}
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}
	r, ok := l.lookup(id)
	if !ok {
		return market.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.p.IsAvailable != expected || r.p.IsAvailable == available {
		return market.ErrConflict
	}
	r.p.IsAvailable = available
	r.p.Version++
	r.p.UpdatedAt = l.now().UTC()
	return nil
}

// UpdatePrice sets the price while the product is still available.
func (l *LocalStorage) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return market.Transient(err)
	}
	r, ok := l.lookup(id)
	if !ok {
		return market.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.p.IsAvailable {
		return market.ErrUnavailable
	}
	r.p.Price = price
	r.p.Version++
	r.p.UpdatedAt = l.now().UTC()
	return nil
}

// snapshot copies every stored product that passes keep.
func (l *LocalStorage) snapshot(keep func(p *market.Product) bool) []*market.Product {
	l.mu.RLock()
	records := make([]*record, 0, len(l.m))
	for _, r := range l.m {
		records = append(records, r)
	}
	l.mu.RUnlock()

	matched := make([]*market.Product, 0)
	for _, r := range records {
		r.mu.Lock()
		p := r.p
		r.mu.Unlock()
		if keep(&p) {
			matched = append(matched, &p)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

func (l *LocalStorage) ListBySeller(ctx context.Context, sellerID string) ([]*market.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}
	return l.snapshot(func(p *market.Product) bool { return p.SellerID == sellerID }), nil
}

// ListAvailable returns the available products matching filter, newest first,
// together with the total number of matches before paging.
func (l *LocalStorage) ListAvailable(ctx context.Context, filter market.ProductFilter) ([]*market.Product, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, market.Transient(err)
	}

	matched := l.snapshot(func(p *market.Product) bool {
		return p.IsAvailable && filter.Matches(p)
	})

	total := len(matched)
	offset, limit := filter.Page()
	if offset >= total {
		return []*market.Product{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

var _ Store = (*LocalStorage)(nil)
