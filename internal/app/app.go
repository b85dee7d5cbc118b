// Package app wires the marketplace components for the configured backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"api_marketplace/internal/cart"
	"api_marketplace/internal/config"
	"api_marketplace/internal/database"
	"api_marketplace/internal/events"
	"api_marketplace/internal/inventory"
	"api_marketplace/internal/jobs"
	"api_marketplace/internal/ledger"
	"api_marketplace/internal/purchase"
)

// Application holds the running components.
type Application struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	DB        *gorm.DB
	Inventory inventory.Store
	Catalog   *inventory.Catalog
	Carts     *cart.Manager
	Ledger    ledger.Ledger
	Engine    *purchase.Engine
	Bus       *events.Bus

	scheduler *jobs.Scheduler
	closers   []func() error
}

// New builds an Application for cfg. On error every resource opened so far is released.
func New(cfg *config.AppConfig, logger *zap.Logger) (_ *Application, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Application{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	scope := database.Scope(database.NoopScope{})
	var carts cart.Storage
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		a.Inventory = inventory.NewLocalStorage()
		carts = cart.NewLocalStorage()
	case config.DriverPostgres, config.DriverSqlite:
		db, err := database.Open(database.Config{
			Driver:       cfg.Storage.Driver,
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			Debug:        cfg.Storage.Debug,
		})
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, func() error { return database.Close(db) })
		a.Inventory = inventory.NewGormStorage(db)
		carts = cart.NewGormStorage(db)
		scope = database.NewGormScope(db)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	switch cfg.Storage.Ledger {
	case config.LedgerMemory:
		a.Ledger = ledger.NewLocalLedger()
	case config.LedgerSQL:
		if a.DB == nil {
			return nil, errors.New("sql ledger needs a database")
		}
		a.Ledger = ledger.NewGormLedger(a.DB)
	case config.LedgerBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		bolt, err := ledger.OpenBoltLedger(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
		a.Ledger = bolt
		a.closers = append(a.closers, bolt.Close)
		// the bolt file cannot join a SQL transaction
		scope = database.NoopScope{}
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Storage.Ledger)
	}

	a.Bus, err = events.NewBus(cfg.Engine.EvictionWorkers, cfg.Engine.EvictionQueue, logger.Named("events"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Bus.Close(); return nil })

	a.Catalog = inventory.NewCatalog(a.Inventory, a.Bus, logger.Named("catalog"))
	a.Carts = cart.NewManager(carts, a.Inventory, logger.Named("cart"))
	if err := a.Carts.Subscribe(a.Bus); err != nil {
		return nil, err
	}
	a.Engine = purchase.NewEngine(a.Inventory, a.Ledger, logger.Named("purchase"),
		purchase.WithScope(scope),
		purchase.WithPublisher(a.Bus),
		purchase.WithTimeout(cfg.Engine.StoreTimeout),
	)

	if cfg.Jobs.CartPrune != "" {
		a.scheduler = jobs.NewScheduler(logger.Named("jobs"))
		if err := a.scheduler.AddPrune(cfg.Jobs.CartPrune, a.Carts, cfg.Jobs.CartPruneTimeout); err != nil {
			return nil, err
		}
	}

	logger.Info("application initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("ledger", cfg.Storage.Ledger),
	)
	return a, nil
}

// Start launches background jobs.
func (a *Application) Start() {
	if a.scheduler != nil {
		a.scheduler.Start()
	}
}

// Health reports whether the storage backend is reachable.
func (a *Application) Health(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Shutdown stops the jobs, lets queued cart evictions finish and releases storage.
func (a *Application) Shutdown(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	if a.Bus != nil {
		if !a.Bus.Drain(ctx) {
			a.Logger.Warn("shutdown before all cart evictions finished")
		}
		if n := a.Bus.Dropped(); n > 0 {
			a.Logger.Warn("cart evictions dropped on a full queue", zap.Int64("dropped", n))
		}
	}
	return a.close()
}

func (a *Application) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
