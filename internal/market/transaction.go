package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the purchase transaction status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure reasons recorded on failed transactions.
const (
	ReasonUnavailable = "unavailable"
	ReasonConflict    = "conflict"
)

// Transaction records one purchase attempt. SellerID and Price are copied from the
// product when the attempt starts, so later listing edits never rewrite history.
type Transaction struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	ProductID string          `gorm:"size:36;not null;index" json:"product_id"`
	BuyerID   string          `gorm:"size:64;not null;index:idx_tx_buyer_created,priority:1" json:"buyer_id"`
	SellerID  string          `gorm:"size:64;not null" json:"seller_id"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Status    Status          `gorm:"size:16;not null" json:"status"`
	Reason    string          `gorm:"size:32" json:"reason,omitempty"`
	CreatedAt time.Time       `gorm:"not null;index:idx_tx_buyer_created,priority:2" json:"created_at"`
}

// TableName returns the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction starts a pending transaction for buyerID against the product snapshot p.
func NewTransaction(id, buyerID string, p Product, now time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		ProductID: p.ID,
		BuyerID:   buyerID,
		SellerID:  p.SellerID,
		Price:     p.Price,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}
}

// Complete moves a pending transaction to completed.
func (t *Transaction) Complete() error {
	if t.Status != StatusPending {
		return ErrInvalidTransition
	}
	t.Status = StatusCompleted
	return nil
}

// Fail moves a pending transaction to failed with the given reason.
func (t *Transaction) Fail(reason string) error {
	if t.Status != StatusPending {
		return ErrInvalidTransition
	}
	t.Status = StatusFailed
	t.Reason = reason
	return nil
}
