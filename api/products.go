package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"api_marketplace/internal/inventory"
	"api_marketplace/internal/market"
)

// productsHandler serves the catalog endpoints.
type productsHandler struct {
	catalog *inventory.Catalog
	logger  *zap.Logger
}

type createProductRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    market.Category `json:"category"`
}

type updatePriceRequest struct {
	Price *decimal.Decimal `json:"price" binding:"required"`
}

type pageMetadata struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func (h *productsHandler) handleCreate(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		badRequest(c, "invalid request payload")
		return
	}

	p, err := h.catalog.Create(c.Request.Context(), currentUser(c), market.NewProductInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
	})
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *productsHandler) handleList(c *gin.Context) {
	filter, page, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	products, total, err := h.catalog.Browse(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	_, limit := filter.Page()
	c.JSON(http.StatusOK, gin.H{
		"results": products,
		"metadata": pageMetadata{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// parseFilter reads the browse query. page is 1-based.
func parseFilter(c *gin.Context) (market.ProductFilter, int, error) {
	filter := market.ProductFilter{
		Category: market.Category(c.Query("category")),
		Search:   strings.TrimSpace(c.Query("search")),
		SellerID: c.Query("seller_id"),
	}
	if filter.Category != "" && !filter.Category.IsValid() {
		return filter, 0, errInvalidQuery("category")
	}

	for key, dst := range map[string]**decimal.Decimal{"min_price": &filter.MinPrice, "max_price": &filter.MaxPrice} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return filter, 0, errInvalidQuery(key)
		}
		*dst = &v
	}

	page, limit := 1, 20
	if raw := c.Query("page"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 {
			return filter, 0, errInvalidQuery("page")
		}
		page = n
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 {
			return filter, 0, errInvalidQuery("limit")
		}
		limit = n
	}
	filter.Limit = limit
	_, limit = filter.Page()
	filter.Offset = (page - 1) * limit
	return filter, page, nil
}

type queryError string

func (e queryError) Error() string { return "invalid query parameter " + string(e) }

func errInvalidQuery(name string) error { return queryError(name) }

func (h *productsHandler) handleGet(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *productsHandler) handleUnlist(c *gin.Context) {
	if err := h.catalog.Unlist(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleMine lists the caller's own products, sold and unlisted ones included.
func (h *productsHandler) handleMine(c *gin.Context) {
	products, err := h.catalog.ListBySeller(c.Request.Context(), currentUser(c))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": products})
}

func (h *productsHandler) handleUpdatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		badRequest(c, "invalid request payload")
		return
	}

	p, err := h.catalog.UpdatePrice(c.Request.Context(), currentUser(c), c.Param("id"), *req.Price)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
