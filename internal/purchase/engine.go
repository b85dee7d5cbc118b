// Package purchase turns a buyer's intent into a completed or failed transaction.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"api_marketplace/internal/database"
	"api_marketplace/internal/events"
	"api_marketplace/internal/inventory"
	"api_marketplace/internal/ledger"
	"api_marketplace/internal/market"
)

// DefaultStoreTimeout bounds each storage step of a purchase.
const DefaultStoreTimeout = 5 * time.Second

// Engine runs purchases. The availability flip and the ledger append share one
// database.Scope, so on SQL backends they commit or roll back together.
type Engine struct {
	inventory inventory.Store
	ledger    ledger.Ledger
	scope     database.Scope
	publisher events.Publisher
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-step storage timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithScope sets the transactional scope for the commit step.
func WithScope(scope database.Scope) Option {
	return func(e *Engine) {
		if scope != nil {
			e.scope = scope
		}
	}
}

// WithPublisher sets where ProductSold events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// NewEngine creates a new Engine.
func NewEngine(store inventory.Store, l ledger.Ledger, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	e := &Engine{
		inventory: store,
		ledger:    l,
		scope:     database.NoopScope{},
		publisher: events.NopPublisher{},
		logger:    logger,
		timeout:   DefaultStoreTimeout,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Purchase buys productID for buyerID.
//
// On success the completed transaction is returned. When the product is already
// sold, ErrUnavailable or ErrConflict is returned together with the failed
// transaction that was recorded for the attempt. ErrNotFound and ErrSelfPurchase
// return no transaction and record nothing.
//
// Cancelling ctx aborts the purchase only up to the availability flip; after
// that the outcome is always committed or failed.
func (e *Engine) Purchase(ctx context.Context, buyerID, productID string) (*market.Transaction, error) {
	if buyerID == "" || productID == "" {
		return nil, market.ErrInvalidInput
	}

	readCtx, cancel := context.WithTimeout(ctx, e.timeout)
	p, err := e.inventory.GetProduct(readCtx, productID)
	cancel()
	if err != nil {
		return nil, market.Transient(err)
	}

	if p.SellerID == buyerID {
		e.logger.Warn("self purchase rejected", zap.String("buyer_id", buyerID), zap.String("product_id", productID))
		return nil, market.ErrSelfPurchase
	}
	if err := ctx.Err(); err != nil {
		return nil, market.Transient(err)
	}

	txn := market.NewTransaction(e.newID(), buyerID, *p, e.now())
	commitCtx := context.WithoutCancel(ctx)

	if !p.IsAvailable {
		return e.fail(commitCtx, txn, market.ReasonUnavailable, market.ErrUnavailable)
	}

	done, err := e.commit(commitCtx, txn)
	switch {
	case err == nil:
	case errors.Is(err, market.ErrConflict):
		return e.fail(commitCtx, txn, market.ReasonConflict, market.ErrConflict)
	case errors.Is(err, market.ErrNotFound):
		return nil, market.ErrNotFound
	default:
		e.logger.Error("purchase commit failed",
			zap.String("transaction_id", txn.ID),
			zap.String("buyer_id", buyerID),
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return nil, market.Transient(err)
	}

	e.logger.Info("purchase completed",
		zap.String("transaction_id", done.ID),
		zap.String("buyer_id", buyerID),
		zap.String("seller_id", done.SellerID),
		zap.String("product_id", productID),
		zap.String("price", done.Price.StringFixed(2)),
	)

	// eviction from carts happens asynchronously; failures never reach the buyer
	if err := e.publisher.Publish(commitCtx, events.NewProductSold(productID, done.ID)); err != nil {
		e.logger.Error("failed to publish sale", zap.String("product_id", productID), zap.Error(err))
	}
	return done, nil
}

// commit flips availability and appends the completed transaction. txn itself
// stays pending; the completed copy is returned.
func (e *Engine) commit(ctx context.Context, txn *market.Transaction) (*market.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return database.Within(ctx, e.scope, func(ctx context.Context) (*market.Transaction, error) {
		if err := e.inventory.SetAvailability(ctx, txn.ProductID, true, false); err != nil {
			return nil, err
		}
		done := *txn
		if err := done.Complete(); err != nil {
			return nil, err
		}
		if err := e.ledger.Record(ctx, &done); err != nil {
			return nil, fmt.Errorf("record transaction %s: %w", done.ID, err)
		}
		return &done, nil
	})
}

// fail records txn as failed with reason and returns it with cause. A ledger
// error here is logged; the buyer still gets cause.
func (e *Engine) fail(ctx context.Context, txn *market.Transaction, reason string, cause error) (*market.Transaction, error) {
	if err := txn.Fail(reason); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.ledger.Record(ctx, txn); err != nil {
		e.logger.Error("failed to record failed transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
	}

	e.logger.Info("purchase failed",
		zap.String("transaction_id", txn.ID),
		zap.String("buyer_id", txn.BuyerID),
		zap.String("product_id", txn.ProductID),
		zap.String("reason", reason),
	)
	return txn, cause
}

// History returns the buyer's transactions, newest first.
func (e *Engine) History(ctx context.Context, buyerID string) ([]market.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.ledger.ListByUser(ctx, buyerID)
}
