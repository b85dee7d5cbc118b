package database

import (
	"context"

	"gorm.io/gorm"
)

// Scope runs business logic inside a transactional boundary.
// The ctx passed to fn carries the transaction for repositories to use.
type Scope interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// Within runs fn inside scope and hands back what fn produced once the
// scope has committed. A failed scope yields the zero value.
func Within[T any](ctx context.Context, scope Scope, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if err := scope.Execute(ctx, func(ctx context.Context) (err error) {
		out, err = fn(ctx)
		return err
	}); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// txKey is the context key for the active gorm transaction.
type txKey struct{}

// WithTx embeds tx in ctx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext extracts the gorm transaction from ctx.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok
}

// Conn returns the transaction in ctx if any, otherwise db bound to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.WithContext(ctx)
}

// GormScope implements Scope with a gorm transaction.
type GormScope struct {
	db *gorm.DB
}

func NewGormScope(db *gorm.DB) *GormScope {
	return &GormScope{db: db}
}

// Execute commits if fn returns nil and rolls back otherwise.
// A scope opened inside another one joins the outer transaction.
func (s *GormScope) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}

// NoopScope runs fn directly. Used with the in-memory stores, which make each
// call atomic on its own.
type NoopScope struct{}

func (NoopScope) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Compile-time interface checks.
var (
	_ Scope = (*GormScope)(nil)
	_ Scope = NoopScope{}
)
