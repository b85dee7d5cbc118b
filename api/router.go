package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"api_marketplace/internal/app"
)

// InitRoutes registers the marketplace endpoints on the given Gin engine.
// Everything except /ping and /health requires an identified user.
func InitRoutes(e *gin.Engine, a *app.Application) {
	logger := a.Logger.Named("http")

	e.Use(RequestID(), AccessLog(logger), gin.Recovery())

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	e.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.Health(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	products := &productsHandler{catalog: a.Catalog, logger: logger}
	carts := &cartHandler{carts: a.Carts, engine: a.Engine, logger: logger}
	purchases := &purchasesHandler{engine: a.Engine, logger: logger}

	authed := e.Group("/", Identity(a.Config.Auth.JWTSecret))

	authed.GET("/products", products.handleList)
	authed.POST("/products", products.handleCreate)
	authed.GET("/products/mine", products.handleMine)
	authed.GET("/products/:id", products.handleGet)
	authed.PATCH("/products/:id", products.handleUpdatePrice)
	authed.DELETE("/products/:id", products.handleUnlist)

	authed.GET("/cart", carts.handleList)
	authed.DELETE("/cart", carts.handleClear)
	authed.POST("/cart/items", carts.handleAdd)
	authed.PATCH("/cart/items/:id", carts.handleUpdate)
	authed.DELETE("/cart/items/:id", carts.handleRemove)
	authed.POST("/cart/items/:id/purchase", carts.handlePurchase)

	authed.POST("/purchases", purchases.handlePurchase)
	authed.GET("/purchases", purchases.handleHistory)
}
