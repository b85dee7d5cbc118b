package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"api_marketplace/internal/ledger"
	"api_marketplace/internal/purchase"
)

// purchasesHandler serves direct purchases and the purchase history.
type purchasesHandler struct {
	engine *purchase.Engine
	logger *zap.Logger
}

type purchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

func (h *purchasesHandler) handlePurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		badRequest(c, "invalid request payload")
		return
	}
	respondPurchase(c, h.logger, h.engine, currentUser(c), req.ProductID)
}

// handleHistory returns the caller's transactions, newest first, as JSON or CSV.
func (h *purchasesHandler) handleHistory(c *gin.Context) {
	txns, err := h.engine.History(c.Request.Context(), currentUser(c))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, gin.H{"results": txns, "count": len(txns)})
	case "csv":
		c.Header("Content-Disposition", `attachment; filename="purchases.csv"`)
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := ledger.WriteCSV(c.Writer, txns); err != nil {
			h.logger.Error("failed to write purchase history", zap.Error(err))
		}
	default:
		badRequest(c, "format must be json or csv")
	}
}
