package cart

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"api_marketplace/internal/database"
	"api_marketplace/internal/market"
)

// GormStorage is the SQL-backed Storage. The unique (user_id, product_id) index
// together with ON CONFLICT DO UPDATE makes concurrent adds accumulate into one row.
type GormStorage struct {
	db *gorm.DB
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

func (s *GormStorage) Upsert(ctx context.Context, entry market.CartEntry) (market.CartEntry, error) {
	if entry.ID == "" || entry.UserID == "" || entry.ProductID == "" {
		return market.CartEntry{}, market.ErrInvalidInput
	}
	if entry.Quantity <= 0 {
		return market.CartEntry{}, market.ErrInvalidQuantity
	}

	conn := database.Conn(ctx, s.db)
	err := conn.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity": gorm.Expr("cart_entries.quantity + excluded.quantity"),
		}),
	}).Create(&entry).Error
	if err != nil {
		return market.CartEntry{}, market.Transient(err)
	}

	var stored market.CartEntry
	err = conn.Where("user_id = ? AND product_id = ?", entry.UserID, entry.ProductID).Take(&stored).Error
	if err != nil {
		return market.CartEntry{}, market.Transient(err)
	}
	return stored, nil
}

func (s *GormStorage) Get(ctx context.Context, entryID string) (market.CartEntry, error) {
	var e market.CartEntry
	err := database.Conn(ctx, s.db).Where("id = ?", entryID).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.CartEntry{}, market.ErrNotFound
	}
	if err != nil {
		return market.CartEntry{}, market.Transient(err)
	}
	return e, nil
}

func (s *GormStorage) ListByUser(ctx context.Context, userID string) ([]market.CartEntry, error) {
	entries := make([]market.CartEntry, 0)
	err := database.Conn(ctx, s.db).Where("user_id = ?", userID).Find(&entries).Error
	if err != nil {
		return nil, market.Transient(err)
	}
	return entries, nil
}

func (s *GormStorage) SetQuantity(ctx context.Context, entryID string, quantity int) error {
	if quantity <= 0 {
		return market.ErrInvalidQuantity
	}
	res := database.Conn(ctx, s.db).Model(&market.CartEntry{}).Where("id = ?", entryID).Update("quantity", quantity)
	if res.Error != nil {
		return market.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return market.ErrNotFound
	}
	return nil
}

func (s *GormStorage) Delete(ctx context.Context, entryID string) error {
	res := database.Conn(ctx, s.db).Where("id = ?", entryID).Delete(&market.CartEntry{})
	if res.Error != nil {
		return market.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return market.ErrNotFound
	}
	return nil
}

func (s *GormStorage) DeleteByUser(ctx context.Context, userID string) (int, error) {
	res := database.Conn(ctx, s.db).Where("user_id = ?", userID).Delete(&market.CartEntry{})
	if res.Error != nil {
		return 0, market.Transient(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormStorage) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	res := database.Conn(ctx, s.db).Where("product_id = ?", productID).Delete(&market.CartEntry{})
	if res.Error != nil {
		return 0, market.Transient(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormStorage) ProductIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := database.Conn(ctx, s.db).Model(&market.CartEntry{}).Distinct("product_id").Pluck("product_id", &ids).Error
	if err != nil {
		return nil, market.Transient(err)
	}
	return ids, nil
}

var _ Storage = (*GormStorage)(nil)
