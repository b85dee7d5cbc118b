// Package config provides runtime configuration values for the service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSQL    = "sql"
	LedgerBolt   = "bolt"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Debug        bool   `yaml:"debug"`
	Ledger       string `yaml:"ledger"`
	BoltPath     string `yaml:"bolt_path"`
}

type EngineConfig struct {
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	EvictionWorkers int           `yaml:"eviction_workers"`
	EvictionQueue   int           `yaml:"eviction_queue"`
}

type JobsConfig struct {
	CartPrune        string        `yaml:"cart_prune"`
	CartPruneTimeout time.Duration `yaml:"cart_prune_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// AppConfig holds every configuration section.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Auth    AuthConfig    `yaml:"auth"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// Default returns the development configuration: everything in memory.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8081",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			Ledger:   LedgerMemory,
			BoltPath: "data/ledger.bolt",
		},
		Engine: EngineConfig{
			StoreTimeout:    5 * time.Second,
			EvictionWorkers: 4,
			EvictionQueue:   1024,
		},
		Jobs: JobsConfig{
			CartPrune:        "@every 10m",
			CartPruneTimeout: time.Minute,
		},
		Logger: LoggerConfig{
			Mode:     "development",
			Filename: "logs/marketplace.log",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is set and the file exists), then MARKET_* environment variables.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := cast.ToIntE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := cast.ToBoolE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := cast.ToDurationE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MARKET_SERVER_ADDR", &cfg.Server.Addr)
	duration("MARKET_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	str("MARKET_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("MARKET_STORAGE_DSN", &cfg.Storage.DSN)
	integer("MARKET_STORAGE_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	boolean("MARKET_STORAGE_DEBUG", &cfg.Storage.Debug)
	str("MARKET_STORAGE_LEDGER", &cfg.Storage.Ledger)
	str("MARKET_STORAGE_BOLT_PATH", &cfg.Storage.BoltPath)
	duration("MARKET_ENGINE_STORE_TIMEOUT", &cfg.Engine.StoreTimeout)
	integer("MARKET_ENGINE_EVICTION_WORKERS", &cfg.Engine.EvictionWorkers)
	integer("MARKET_ENGINE_EVICTION_QUEUE", &cfg.Engine.EvictionQueue)
	str("MARKET_JOBS_CART_PRUNE", &cfg.Jobs.CartPrune)
	duration("MARKET_JOBS_CART_PRUNE_TIMEOUT", &cfg.Jobs.CartPruneTimeout)
	str("MARKET_AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("MARKET_LOGGER_MODE", &cfg.Logger.Mode)
	boolean("MARKET_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	str("MARKET_LOGGER_FILENAME", &cfg.Logger.Filename)

	return errors.Join(errs...)
}

// Validate checks that the storage combination is usable.
func (c *AppConfig) Validate() error {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Storage.Ledger = strings.ToLower(c.Storage.Ledger)

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSqlite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Storage.Ledger {
	case LedgerMemory, LedgerBolt:
	case LedgerSQL:
		if c.Storage.Driver == DriverMemory {
			return errors.New("ledger sql requires a postgres or sqlite storage driver")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Storage.Ledger)
	}
	if c.Storage.Ledger == LedgerBolt && c.Storage.BoltPath == "" {
		return errors.New("storage.bolt_path is required for the bolt ledger")
	}

	if c.Engine.StoreTimeout <= 0 {
		return errors.New("engine.store_timeout must be positive")
	}
	if c.Engine.EvictionWorkers <= 0 {
		return errors.New("engine.eviction_workers must be positive")
	}
	if c.Engine.EvictionQueue <= 0 {
		return errors.New("engine.eviction_queue must be positive")
	}
	return nil
}
