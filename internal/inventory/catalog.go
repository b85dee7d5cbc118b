package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"api_marketplace/internal/events"
	"api_marketplace/internal/market"
)

// Catalog is the seller-facing side of the inventory: listing and unlisting products.
type Catalog struct {
	store     Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewCatalog creates a new Catalog.
func NewCatalog(store Store, publisher events.Publisher, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Catalog{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates in and lists a new available product for sellerID.
func (c *Catalog) Create(ctx context.Context, sellerID string, in market.NewProductInput) (*market.Product, error) {
	p, err := market.NewProduct(sellerID, in, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.store.CreateProduct(ctx, p); err != nil {
		c.logger.Error("failed to save product", zap.String("product_id", p.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to save product: %w", err)
	}

	c.logger.Info("product listed",
		zap.String("product_id", p.ID),
		zap.String("seller_id", sellerID),
		zap.String("price", p.Price.StringFixed(2)),
	)
	return p, nil
}

// Get returns a product. Sold or unlisted products are only visible to their seller.
func (c *Catalog) Get(ctx context.Context, viewerID, productID string) (*market.Product, error) {
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsAvailable && p.SellerID != viewerID {
		return nil, market.ErrNotFound
	}
	return p, nil
}

// Browse lists available products.
func (c *Catalog) Browse(ctx context.Context, filter market.ProductFilter) ([]*market.Product, int, error) {
	return c.store.ListAvailable(ctx, filter)
}

// ListBySeller returns all of sellerID's listings, sold and unlisted included.
func (c *Catalog) ListBySeller(ctx context.Context, sellerID string) ([]*market.Product, error) {
	if sellerID == "" {
		return nil, market.ErrInvalidInput
	}
	return c.store.ListBySeller(ctx, sellerID)
}

// UpdatePrice reprices one of sellerID's available listings. Completed
// transactions keep the price they were made at.
func (c *Catalog) UpdatePrice(ctx context.Context, sellerID, productID string, price decimal.Decimal) (*market.Product, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", market.ErrInvalidProduct)
	}
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.SellerID != sellerID {
		return nil, market.ErrForbidden
	}

	if err := c.store.UpdatePrice(ctx, productID, price); err != nil {
		return nil, err
	}
	c.logger.Info("product repriced",
		zap.String("product_id", productID),
		zap.String("old_price", p.Price.StringFixed(2)),
		zap.String("new_price", price.StringFixed(2)),
	)
	return c.store.GetProduct(ctx, productID)
}

// Unlist withdraws an available product. Only the seller may unlist it, and a sold
// product cannot be unlisted.
func (c *Catalog) Unlist(ctx context.Context, sellerID, productID string) error {
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.SellerID != sellerID {
		return market.ErrForbidden
	}
	if !p.IsAvailable {
		return market.ErrUnavailable
	}

	if err := c.store.SetAvailability(ctx, productID, true, false); err != nil {
		c.logger.Warn("unlist lost availability race", zap.String("product_id", productID), zap.Error(err))
		return err
	}

	c.logger.Info("product unlisted", zap.String("product_id", productID), zap.String("seller_id", sellerID))
	if err := c.publisher.Publish(ctx, events.NewProductUnlisted(productID)); err != nil {
		c.logger.Error("failed to publish unlist event", zap.String("product_id", productID), zap.Error(err))
	}
	return nil
}
