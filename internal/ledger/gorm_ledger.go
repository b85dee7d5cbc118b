package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"api_marketplace/internal/database"
	"api_marketplace/internal/market"
)

// GormLedger stores transactions in the insert-only transactions table.
// Inside a database.Scope the insert joins the surrounding SQL transaction.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Record(ctx context.Context, txn *market.Transaction) error {
	if err := validate(txn); err != nil {
		return err
	}
	row := *txn
	err := database.Conn(ctx, l.db).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return market.ErrAlreadyRecorded
	}
	return market.Transient(err)
}

func (l *GormLedger) ListByUser(ctx context.Context, buyerID string) ([]market.Transaction, error) {
	txns := make([]market.Transaction, 0)
	err := database.Conn(ctx, l.db).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, market.Transient(err)
	}
	return txns, nil
}

var _ Ledger = (*GormLedger)(nil)
