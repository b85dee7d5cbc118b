package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"api_marketplace/internal/events"
	"api_marketplace/internal/market"
)

// resolveLimit caps concurrent product lookups while resolving one cart.
const resolveLimit = 8

// ProductReader is the part of the inventory the cart reads from. The cart never
// writes availability.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*market.Product, error)
}

// Manager provides cart operations on a Storage backend, validating against the inventory.
type Manager struct {
	storage  Storage
	products ProductReader
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a new Manager.
func NewManager(storage Storage, products ProductReader, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		storage:  storage,
		products: products,
		logger:   logger,
		now:      time.Now,
	}
}

// AddItem puts quantity units of productID in the user's cart, adding to any
// quantity already there.
func (m *Manager) AddItem(ctx context.Context, userID, productID string, quantity int) (market.CartEntry, error) {
	if quantity <= 0 {
		return market.CartEntry{}, market.ErrInvalidQuantity
	}
	p, err := m.products.GetProduct(ctx, productID)
	if err != nil {
		return market.CartEntry{}, err
	}
	if p.SellerID == userID {
		return market.CartEntry{}, market.ErrSelfPurchase
	}
	if !p.IsAvailable {
		return market.CartEntry{}, market.ErrUnavailable
	}

	entry, err := m.storage.Upsert(ctx, market.NewCartEntry(userID, productID, quantity, m.now()))
	if err != nil {
		m.logger.Error("failed to save cart entry", zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
		return market.CartEntry{}, fmt.Errorf("failed to save cart entry: %w", err)
	}

	m.logger.Info("cart item added",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", entry.Quantity),
	)
	return entry, nil
}

// Entry returns a cart entry owned by userID.
func (m *Manager) Entry(ctx context.Context, userID, entryID string) (market.CartEntry, error) {
	e, err := m.storage.Get(ctx, entryID)
	if err != nil {
		return market.CartEntry{}, err
	}
	if e.UserID != userID {
		return market.CartEntry{}, market.ErrForbidden
	}
	return e, nil
}

// UpdateQuantity sets the quantity of an entry. The product must still be purchasable.
func (m *Manager) UpdateQuantity(ctx context.Context, userID, entryID string, quantity int) (market.CartEntry, error) {
	if quantity <= 0 {
		return market.CartEntry{}, market.ErrInvalidQuantity
	}
	e, err := m.Entry(ctx, userID, entryID)
	if err != nil {
		return market.CartEntry{}, err
	}

	p, err := m.products.GetProduct(ctx, e.ProductID)
	switch {
	case errors.Is(err, market.ErrNotFound):
		return market.CartEntry{}, market.ErrUnavailable
	case err != nil:
		return market.CartEntry{}, err
	case !p.IsAvailable:
		return market.CartEntry{}, market.ErrUnavailable
	}

	if err := m.storage.SetQuantity(ctx, entryID, quantity); err != nil {
		return market.CartEntry{}, err
	}
	e.Quantity = quantity
	return e, nil
}

// RemoveItem deletes one entry from the user's cart.
func (m *Manager) RemoveItem(ctx context.Context, userID, entryID string) error {
	if _, err := m.Entry(ctx, userID, entryID); err != nil {
		return err
	}
	return m.storage.Delete(ctx, entryID)
}

// ListItems resolves the user's cart against the inventory. Entries whose product
// is gone or no longer available are left out and deleted on a best-effort basis.
func (m *Manager) ListItems(ctx context.Context, userID string) ([]market.CartItem, error) {
	entries, err := m.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resolved := make([]*market.Product, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveLimit)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			p, err := m.products.GetProduct(gctx, e.ProductID)
			if errors.Is(err, market.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			resolved[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]market.CartItem, 0, len(entries))
	for i, e := range entries {
		p := resolved[i]
		if p == nil || !p.IsAvailable {
			m.dropStale(ctx, e)
			continue
		}
		items = append(items, market.CartItem{Entry: e, Product: *p})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Entry.AddedAt.After(items[j].Entry.AddedAt)
	})
	return items, nil
}

func (m *Manager) dropStale(ctx context.Context, e market.CartEntry) {
	err := m.storage.Delete(ctx, e.ID)
	if err != nil && !errors.Is(err, market.ErrNotFound) {
		m.logger.Warn("failed to drop stale cart entry",
			zap.String("entry_id", e.ID),
			zap.String("product_id", e.ProductID),
			zap.Error(err),
		)
	}
}

// Clear empties the user's cart. Clearing an empty cart is not an error.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	n, err := m.storage.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	m.logger.Info("cart cleared", zap.String("user_id", userID), zap.Int("removed", n))
	return nil
}

// Evict removes productID from every cart.
func (m *Manager) Evict(ctx context.Context, productID string) (int, error) {
	n, err := m.storage.DeleteByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	m.logger.Info("product evicted from carts", zap.String("product_id", productID), zap.Int("removed", n))
	return n, nil
}

// Prune removes, across all carts, every entry whose product is gone or unavailable.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	ids, err := m.storage.ProductIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		p, err := m.products.GetProduct(ctx, id)
		if err != nil && !errors.Is(err, market.ErrNotFound) {
			return removed, err
		}
		if p != nil && p.IsAvailable {
			continue
		}
		n, err := m.storage.DeleteByProduct(ctx, id)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// HandleProductRemoved evicts the product named by a sold or unlisted event.
func (m *Manager) HandleProductRemoved(ctx context.Context, event events.Event) error {
	productID := event.Key()
	if _, err := m.Evict(ctx, productID); err != nil {
		return fmt.Errorf("evict product %s: %w", productID, err)
	}
	return nil
}

// Subscribe registers the eviction handler for every product removal event.
func (m *Manager) Subscribe(sub events.Subscriber) error {
	handler := events.HandlerFunc(m.HandleProductRemoved)
	for _, eventType := range []string{events.TypeProductSold, events.TypeProductUnlisted} {
		if err := sub.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}
