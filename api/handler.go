package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"api_marketplace/internal/market"
)

// Error codes returned next to the message for the outcomes clients branch on.
const (
	CodePurchaseConflict   = "purchase_conflict"
	CodeProductUnavailable = "product_unavailable"
	CodeSelfPurchase       = "self_purchase"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeInvalidRequest     = "invalid_request"
	CodeTemporary          = "temporarily_unavailable"
	CodeInternal           = "internal_error"
	CodeUnauthorized       = "unauthorized"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error       string              `json:"error"`
	Code        string              `json:"code"`
	Transaction *market.Transaction `json:"transaction,omitempty"`
}

// statusFor maps a domain error to its HTTP status and code. Order matters:
// ErrConflict is also ErrUnavailable, ErrForbidden is also ErrNotFound.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, market.ErrConflict):
		return http.StatusConflict, CodePurchaseConflict
	case errors.Is(err, market.ErrUnavailable):
		return http.StatusGone, CodeProductUnavailable
	case errors.Is(err, market.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, market.ErrSelfPurchase):
		return http.StatusUnprocessableEntity, CodeSelfPurchase
	case errors.Is(err, market.ErrInvalidQuantity),
		errors.Is(err, market.ErrInvalidProduct),
		errors.Is(err, market.ErrInvalidInput),
		errors.Is(err, market.ErrInvalidTransition):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, market.ErrTransient):
		return http.StatusServiceUnavailable, CodeTemporary
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// handleError writes the JSON error for err. Server-side failures are logged and
// their details kept out of the response.
func handleError(c *gin.Context, logger *zap.Logger, err error) {
	handleTxnError(c, logger, err, nil)
}

func handleTxnError(c *gin.Context, logger *zap.Logger, err error, txn *market.Transaction) {
	status, code := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	case http.StatusServiceUnavailable:
		logger.Warn("storage unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		msg = market.ErrTransient.Error()
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code, Transaction: txn})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg, Code: CodeInvalidRequest})
}
