package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"api_marketplace/internal/cart"
	"api_marketplace/internal/purchase"
)

// cartHandler serves the cart endpoints, including checkout of a single entry.
type cartHandler struct {
	carts  *cart.Manager
	engine *purchase.Engine
	logger *zap.Logger
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  *int   `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *cartHandler) handleList(c *gin.Context) {
	items, err := h.carts.ListItems(c.Request.Context(), currentUser(c))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Entry.Quantity))))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "total": total.StringFixed(2)})
}

func (h *cartHandler) handleAdd(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		badRequest(c, "invalid request payload")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	entry, err := h.carts.AddItem(c.Request.Context(), currentUser(c), req.ProductID, quantity)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *cartHandler) handleUpdate(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}

	entry, err := h.carts.UpdateQuantity(c.Request.Context(), currentUser(c), c.Param("id"), req.Quantity)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *cartHandler) handleRemove(c *gin.Context) {
	if err := h.carts.RemoveItem(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *cartHandler) handleClear(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), currentUser(c)); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePurchase buys the product behind one of the caller's cart entries.
func (h *cartHandler) handlePurchase(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	entry, err := h.carts.Entry(ctx, user, c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	respondPurchase(c, h.logger, h.engine, user, entry.ProductID)
}

func respondPurchase(c *gin.Context, logger *zap.Logger, engine *purchase.Engine, buyerID, productID string) {
	txn, err := engine.Purchase(c.Request.Context(), buyerID, productID)
	if err != nil {
		handleTxnError(c, logger, err, txn)
		return
	}
	c.JSON(http.StatusCreated, txn)
}
