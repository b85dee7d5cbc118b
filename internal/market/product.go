// Package market holds the marketplace domain types shared by the inventory,
// cart, purchase and ledger packages.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is a listing category.
type Category string

const (
	CategoryElectronics  Category = "electronics"
	CategoryClothing     Category = "clothing"
	CategoryHomeGarden   Category = "home-garden"
	CategoryBooks        Category = "books"
	CategorySports       Category = "sports"
	CategoryToys         Category = "toys"
	CategoryAutomotive   Category = "automotive"
	CategoryHealthBeauty Category = "health-beauty"
	CategoryMusic        Category = "music"
	CategoryOther        Category = "other"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryElectronics, CategoryClothing, CategoryHomeGarden, CategoryBooks, CategorySports,
		CategoryToys, CategoryAutomotive, CategoryHealthBeauty, CategoryMusic, CategoryOther:
		return true
	default:
		return false
	}
}

// Product is a listing. After creation only IsAvailable and Price change, each
// bumping Version and UpdatedAt. Price is frozen once the product is unavailable.
type Product struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Title       string          `gorm:"size:200;not null" json:"title"`
	Description string          `gorm:"size:2000" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Category    Category        `gorm:"size:32;index" json:"category"`
	SellerID    string          `gorm:"size:64;index;not null" json:"seller_id"`
	IsAvailable bool            `gorm:"index;not null" json:"is_available"`
	Version     int             `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// NewProductInput carries the catalog fields a seller supplies.
type NewProductInput struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Category    Category
}

// NewProduct validates input and builds an available product owned by sellerID.
func NewProduct(sellerID string, in NewProductInput, now time.Time) (*Product, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case sellerID == "":
		return nil, fmt.Errorf("%w: seller is required", ErrInvalidProduct)
	case title == "" || len(title) > 200:
		return nil, fmt.Errorf("%w: title is required and must be under 200 characters", ErrInvalidProduct)
	case len(in.Description) > 2000:
		return nil, fmt.Errorf("%w: description must be under 2000 characters", ErrInvalidProduct)
	case in.Price.IsNegative():
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}

	category := in.Category
	if category == "" {
		category = CategoryOther
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidProduct, in.Category)
	}

	return &Product{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		Price:       in.Price,
		Category:    category,
		SellerID:    sellerID,
		IsAvailable: true,
		Version:     1,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// ProductFilter narrows ListAvailable results.
type ProductFilter struct {
	Category Category
	Search   string
	SellerID string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Offset   int
	Limit    int
}

// Matches reports whether p passes every filter criterion. Availability is not checked here.
func (f ProductFilter) Matches(p *Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.SellerID != "" && p.SellerID != f.SellerID {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Title), term) && !strings.Contains(strings.ToLower(p.Description), term) {
			return false
		}
	}
	return true
}

// Page clamps Offset/Limit to sane values (limit 1..100, default 20).
func (f ProductFilter) Page() (offset, limit int) {
	offset, limit = f.Offset, f.Limit
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return offset, limit
}
