package purchase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"api_marketplace/internal/cart"
	"api_marketplace/internal/database"
	"api_marketplace/internal/events"
	"api_marketplace/internal/inventory"
	"api_marketplace/internal/ledger"
	"api_marketplace/internal/market"
)

type env struct {
	engine *Engine
	store  inventory.Store
	ledger ledger.Ledger
	pub    *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newLocalEnv(t *testing.T, opts ...Option) *env {
	store := inventory.NewLocalStorage()
	l := ledger.NewLocalLedger()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	return &env{engine: NewEngine(store, l, zaptest.NewLogger(t), opts...), store: store, ledger: l, pub: pub}
}

func newSqliteEnv(t *testing.T, wrapLedger func(ledger.Ledger) ledger.Ledger) *env {
	db, err := database.Open(database.Config{
		Driver: database.DriverSqlite,
		DSN:    filepath.Join(t.TempDir(), "purchase.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store := inventory.NewGormStorage(db)
	var l ledger.Ledger = ledger.NewGormLedger(db)
	if wrapLedger != nil {
		l = wrapLedger(l)
	}
	pub := &recordingPublisher{}
	engine := NewEngine(store, l, zaptest.NewLogger(t), WithScope(database.NewGormScope(db)), WithPublisher(pub))
	return &env{engine: engine, store: store, ledger: l, pub: pub}
}

func envs(t *testing.T, fn func(t *testing.T, e *env)) {
	t.Run("local", func(t *testing.T) { fn(t, newLocalEnv(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSqliteEnv(t, nil)) })
}

func (e *env) list(t *testing.T, seller string, price string) *market.Product {
	t.Helper()
	p, err := market.NewProduct(seller, market.NewProductInput{Title: "Item", Price: decimal.RequireFromString(price)}, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func (e *env) available(t *testing.T, productID string) bool {
	t.Helper()
	p, err := e.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.IsAvailable
}

func (e *env) history(t *testing.T, buyerID string) []market.Transaction {
	t.Helper()
	txns, err := e.ledger.ListByUser(context.Background(), buyerID)
	require.NoError(t, err)
	return txns
}

func TestPurchase_Success(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "42.50")

		txn, err := e.engine.Purchase(context.Background(), "buyer", p.ID)
		require.NoError(t, err)
		assert.Equal(t, market.StatusCompleted, txn.Status)
		assert.Equal(t, "seller", txn.SellerID)
		assert.True(t, txn.Price.Equal(decimal.RequireFromString("42.50")))
		assert.False(t, e.available(t, p.ID))

		history := e.history(t, "buyer")
		require.Len(t, history, 1)
		assert.Equal(t, txn.ID, history[0].ID)
		assert.Equal(t, market.StatusCompleted, history[0].Status)

		require.Equal(t, 1, e.pub.count())
		assert.Equal(t, events.TypeProductSold, e.pub.events[0].Type())
	})
}

func TestPurchase_SelfPurchase(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "10.00")

		txn, err := e.engine.Purchase(context.Background(), "seller", p.ID)
		assert.ErrorIs(t, err, market.ErrSelfPurchase)
		assert.Nil(t, txn)
		assert.True(t, e.available(t, p.ID))
		assert.Empty(t, e.history(t, "seller"))
		assert.Zero(t, e.pub.count())
	})
}

func TestPurchase_SelfPurchaseWinsOverUnavailable(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "10.00")
		_, err := e.engine.Purchase(context.Background(), "buyer", p.ID)
		require.NoError(t, err)

		_, err = e.engine.Purchase(context.Background(), "seller", p.ID)
		assert.ErrorIs(t, err, market.ErrSelfPurchase)
		assert.Empty(t, e.history(t, "seller"))
	})
}

func TestPurchase_NotFound(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		txn, err := e.engine.Purchase(context.Background(), "buyer", "missing")
		assert.ErrorIs(t, err, market.ErrNotFound)
		assert.Nil(t, txn)
		assert.Empty(t, e.history(t, "buyer"))
	})
}

func TestPurchase_AlreadySoldRecordsFailure(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "10.00")
		_, err := e.engine.Purchase(context.Background(), "b1", p.ID)
		require.NoError(t, err)

		txn, err := e.engine.Purchase(context.Background(), "b2", p.ID)
		assert.ErrorIs(t, err, market.ErrUnavailable)
		require.NotNil(t, txn)
		assert.Equal(t, market.StatusFailed, txn.Status)
		assert.Equal(t, market.ReasonUnavailable, txn.Reason)

		history := e.history(t, "b2")
		require.Len(t, history, 1)
		assert.Equal(t, market.StatusFailed, history[0].Status)
		assert.Equal(t, 1, e.pub.count())
	})
}

// staleStore serves a snapshot taken before the product was sold, forcing the
// buyer onto the compare-and-set path.
type staleStore struct {
	inventory.Store
	snapshot market.Product
}

func (s *staleStore) GetProduct(ctx context.Context, id string) (*market.Product, error) {
	p := s.snapshot
	return &p, nil
}

func TestPurchase_LosingCompareAndSetIsConflict(t *testing.T) {
	e := newLocalEnv(t)
	p := e.list(t, "seller", "99.00")

	winner, err := e.engine.Purchase(context.Background(), "b1", p.ID)
	require.NoError(t, err)

	loserEngine := NewEngine(&staleStore{Store: e.store, snapshot: *p}, e.ledger, zaptest.NewLogger(t))
	txn, err := loserEngine.Purchase(context.Background(), "b2", p.ID)
	assert.ErrorIs(t, err, market.ErrConflict)
	assert.ErrorIs(t, err, market.ErrUnavailable)
	require.NotNil(t, txn)
	assert.Equal(t, market.StatusFailed, txn.Status)
	assert.Equal(t, market.ReasonConflict, txn.Reason)

	b2 := e.history(t, "b2")
	require.Len(t, b2, 1)
	assert.Equal(t, market.ReasonConflict, b2[0].Reason)

	b1 := e.history(t, "b1")
	require.Len(t, b1, 1)
	assert.Equal(t, winner.ID, b1[0].ID)
}

func TestPurchase_ConcurrentBuyersHaveOneWinner(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "250.00")

		const buyers = 16
		var (
			mu      sync.Mutex
			winners []string
		)
		var g errgroup.Group
		for i := 0; i < buyers; i++ {
			buyer := fmt.Sprintf("buyer-%d", i)
			g.Go(func() error {
				txn, err := e.engine.Purchase(context.Background(), buyer, p.ID)
				if err == nil {
					mu.Lock()
					winners = append(winners, txn.BuyerID)
					mu.Unlock()
					return nil
				}
				if !errors.Is(err, market.ErrUnavailable) {
					return fmt.Errorf("%s: unexpected error: %w", buyer, err)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Len(t, winners, 1)

		completed := 0
		for i := 0; i < buyers; i++ {
			for _, txn := range e.history(t, fmt.Sprintf("buyer-%d", i)) {
				if txn.Status == market.StatusCompleted {
					completed++
					assert.Equal(t, winners[0], txn.BuyerID)
				}
			}
		}
		assert.Equal(t, 1, completed)
		assert.False(t, e.available(t, p.ID))
	})
}

func TestPurchase_CancelledBeforeFlipHasNoEffect(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		p := e.list(t, "seller", "10.00")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		txn, err := e.engine.Purchase(ctx, "buyer", p.ID)
		assert.ErrorIs(t, err, market.ErrTransient)
		assert.Nil(t, txn)
		assert.True(t, e.available(t, p.ID))
		assert.Empty(t, e.history(t, "buyer"))
	})
}

type blockingStore struct {
	inventory.Store
}

func (blockingStore) GetProduct(ctx context.Context, id string) (*market.Product, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPurchase_StoreTimeoutIsTransient(t *testing.T) {
	engine := NewEngine(blockingStore{Store: inventory.NewLocalStorage()}, ledger.NewLocalLedger(),
		zaptest.NewLogger(t), WithTimeout(20*time.Millisecond))

	_, err := engine.Purchase(context.Background(), "buyer", "p1")
	assert.ErrorIs(t, err, market.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) Record(context.Context, *market.Transaction) error {
	return errors.New("disk full")
}

func TestPurchase_LedgerKeepsPriceAtPurchaseTime(t *testing.T) {
	envs(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		catalog := inventory.NewCatalog(e.store, nil, zaptest.NewLogger(t))
		p := e.list(t, "seller", "50.00")

		_, err := catalog.UpdatePrice(ctx, "seller", p.ID, decimal.RequireFromString("42.50"))
		require.NoError(t, err)

		txn, err := e.engine.Purchase(ctx, "buyer", p.ID)
		require.NoError(t, err)
		assert.True(t, txn.Price.Equal(decimal.RequireFromString("42.50")), txn.Price.String())

		_, err = catalog.UpdatePrice(ctx, "seller", p.ID, decimal.RequireFromString("99.00"))
		assert.ErrorIs(t, err, market.ErrUnavailable)

		history := e.history(t, "buyer")
		require.Len(t, history, 1)
		assert.Equal(t, market.StatusCompleted, history[0].Status)
		assert.True(t, history[0].Price.Equal(decimal.RequireFromString("42.50")), history[0].Price.String())

		sold, err := e.store.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, sold.Price.Equal(decimal.RequireFromString("42.50")))
	})
}

func TestPurchase_LedgerFailureRollsBackFlip(t *testing.T) {
	e := newSqliteEnv(t, func(l ledger.Ledger) ledger.Ledger { return failingLedger{Ledger: l} })
	p := e.list(t, "seller", "10.00")

	txn, err := e.engine.Purchase(context.Background(), "buyer", p.ID)
	assert.ErrorIs(t, err, market.ErrTransient)
	assert.Nil(t, txn)
	assert.True(t, e.available(t, p.ID))
	assert.Zero(t, e.pub.count())
}

func TestPurchase_EvictsFromEveryCart(t *testing.T) {
	store := inventory.NewLocalStorage()
	cartStore := cart.NewLocalStorage()
	carts := cart.NewManager(cartStore, store, zaptest.NewLogger(t))
	bus, err := events.NewBus(2, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	require.NoError(t, carts.Subscribe(bus))

	engine := NewEngine(store, ledger.NewLocalLedger(), zaptest.NewLogger(t), WithPublisher(bus))
	ctx := context.Background()

	p, err := market.NewProduct("seller", market.NewProductInput{Title: "Lamp", Price: decimal.NewFromInt(10)}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CreateProduct(ctx, p))
	other, err := market.NewProduct("seller", market.NewProductInput{Title: "Rug", Price: decimal.NewFromInt(4)}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CreateProduct(ctx, other))

	for _, user := range []string{"b1", "b2", "b3"} {
		_, err := carts.AddItem(ctx, user, p.ID, 1)
		require.NoError(t, err)
	}
	_, err = carts.AddItem(ctx, "b2", other.ID, 1)
	require.NoError(t, err)

	_, err = engine.Purchase(ctx, "b1", p.ID)
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.True(t, bus.Drain(drainCtx))

	ids, err := cartStore.ProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids)

	for _, user := range []string{"b1", "b3"} {
		entries, err := cartStore.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, entries, user)
	}
}

func TestPurchase_ReturnsWhileEvictionWorkersAreBusy(t *testing.T) {
	store := inventory.NewLocalStorage()
	bus, err := events.NewBus(1, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(events.TypeProductSold, events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return nil
	})))
	defer close(release)

	engine := NewEngine(store, ledger.NewLocalLedger(), zaptest.NewLogger(t), WithPublisher(bus))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p, err := market.NewProduct("seller", market.NewProductInput{Title: fmt.Sprintf("Item %d", i), Price: decimal.NewFromInt(5)}, time.Now())
		require.NoError(t, err)
		require.NoError(t, store.CreateProduct(ctx, p))

		start := time.Now()
		txn, err := engine.Purchase(ctx, "buyer", p.ID)
		require.NoError(t, err)
		assert.Equal(t, market.StatusCompleted, txn.Status)
		assert.Less(t, time.Since(start), 200*time.Millisecond, "purchase %d waited on the event bus", i)
	}
}
