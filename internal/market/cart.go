package market

import (
	"time"

	"github.com/google/uuid"
)

// CartEntry is a weak reference from a user's cart to a product. It never copies product data.
type CartEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_cart_user_product" json:"user_id"`
	ProductID string    `gorm:"size:36;not null;uniqueIndex:idx_cart_user_product;index" json:"product_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	AddedAt   time.Time `gorm:"not null" json:"added_at"`
}

// TableName returns the table name for CartEntry.
func (CartEntry) TableName() string {
	return "cart_entries"
}

// NewCartEntry builds an entry with a fresh id.
func NewCartEntry(userID, productID string, quantity int, now time.Time) CartEntry {
	return CartEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   now.UTC(),
	}
}

// CartItem is a cart entry resolved against the inventory at read time.
type CartItem struct {
	Entry   CartEntry `json:"entry"`
	Product Product   `json:"product"`
}
