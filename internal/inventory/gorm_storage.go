package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"api_marketplace/internal/database"
	"api_marketplace/internal/market"
)

// GormStorage is the SQL-backed Store. The availability compare-and-set is a single
// conditional UPDATE whose affected row count decides the winner.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, now: time.Now}
}

func (s *GormStorage) CreateProduct(ctx context.Context, p *market.Product) error {
	if p == nil || p.ID == "" {
		return market.ErrInvalidProduct
	}
	err := database.Conn(ctx, s.db).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return market.ErrInvalidProduct
	}
	return market.Transient(err)
}

func (s *GormStorage) GetProduct(ctx context.Context, id string) (*market.Product, error) {
	var p market.Product
	err := database.Conn(ctx, s.db).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, market.Transient(err)
	}
	return &p, nil
}

func (s *GormStorage) SetAvailability(ctx context.Context, id string, expected, available bool) error {
	if available && !expected {
		return market.ErrInvalidTransition
	}
	if expected == available {
		if _, err := s.GetProduct(ctx, id); err != nil {
			return err
		}
		return market.ErrConflict
	}

	res := database.Conn(ctx, s.db).Model(&market.Product{}).
		Where("id = ? AND is_available = ?", id, expected).
		Updates(map[string]interface{}{
			"is_available": available,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   s.now().UTC(),
		})
	if res.Error != nil {
		return market.Transient(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// zero rows: either the product is gone or someone else flipped it first
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	return market.ErrConflict
}

// UpdatePrice only touches rows that are still available.
func (s *GormStorage) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	res := database.Conn(ctx, s.db).Model(&market.Product{}).
		Where("id = ? AND is_available = ?", id, true).
		Updates(map[string]interface{}{
			"price":      price,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return market.Transient(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	return market.ErrUnavailable
}

func (s *GormStorage) ListBySeller(ctx context.Context, sellerID string) ([]*market.Product, error) {
	products := make([]*market.Product, 0)
	err := database.Conn(ctx, s.db).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").Order("id ASC").
		Find(&products).Error
	if err != nil {
		return nil, market.Transient(err)
	}
	return products, nil
}

func (s *GormStorage) ListAvailable(ctx context.Context, filter market.ProductFilter) ([]*market.Product, int, error) {
	query := database.Conn(ctx, s.db).Model(&market.Product{}).Where("is_available = ?", true)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.SellerID != "" {
		query = query.Where("seller_id = ?", filter.SellerID)
	}
	if filter.MinPrice != nil {
		query = query.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query = query.Where("price <= ?", *filter.MaxPrice)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, market.Transient(err)
	}

	offset, limit := filter.Page()
	products := make([]*market.Product, 0, limit)
	err := query.Order("created_at DESC").Order("id ASC").Offset(offset).Limit(limit).Find(&products).Error
	if err != nil {
		return nil, 0, market.Transient(err)
	}
	return products, int(total), nil
}

var _ Store = (*GormStorage)(nil)
