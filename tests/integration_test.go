package tests

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"api_marketplace/api"
	"api_marketplace/internal/app"
	"api_marketplace/internal/config"
	"api_marketplace/internal/market"
)

type errorBody struct {
	Error       string              `json:"error"`
	Code        string              `json:"code"`
	Transaction *market.Transaction `json:"transaction"`
}

func InitRoutesTests(t *testing.T) (*gin.Engine, *app.Application) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Jobs.CartPrune = ""
	a, err := app.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	router := gin.New()
	api.InitRoutes(router, a)
	return router, a
}

func do(router *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func drainEvictions(t *testing.T, a *app.Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, a.Bus.Drain(ctx), "Expected cart evictions to finish")
}

func createProduct(t *testing.T, router *gin.Engine, seller, title, price string) market.Product {
	t.Helper()
	w := do(router, http.MethodPost, "/products", seller, map[string]string{
		"title": title, "price": price, "category": "electronics",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p market.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

// TestMarketplace_CartToPurchaseFlow walks two buyers and a seller through listing,
// carting, buying and the aftermath.
func TestMarketplace_CartToPurchaseFlow(t *testing.T) {
	router, a := InitRoutesTests(t)

	var (
		product market.Product
		b1Entry market.CartEntry
	)

	t.Run("POST_CreateProduct", func(t *testing.T) {
		product = createProduct(t, router, "seller", "Vintage camera", "120.50")
		assert.NotEmpty(t, product.ID, "Expected product ID to be generated")
		assert.True(t, product.IsAvailable, "Expected new product to be available")
		assert.Equal(t, "seller", product.SellerID, "Expected seller to be the caller")
		assert.True(t, product.Price.Equal(decimal.RequireFromString("120.50")), "Expected price to round-trip")
	})
	if product.ID == "" {
		t.Fatal("Product ID was not successfully generated in POST_CreateProduct step.")
	}

	t.Run("POST_AddToCart", func(t *testing.T) {
		w := do(router, http.MethodPost, "/cart/items", "b1", map[string]interface{}{"product_id": product.ID})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b1Entry))
		assert.Equal(t, 1, b1Entry.Quantity, "Expected default quantity of 1")

		w = do(router, http.MethodPost, "/cart/items", "b2", map[string]interface{}{"product_id": product.ID, "quantity": 2})
		assert.Equal(t, http.StatusCreated, w.Code)

		w = do(router, http.MethodPost, "/cart/items", "b2", map[string]interface{}{"product_id": product.ID, "quantity": 0})
		assert.Equal(t, http.StatusBadRequest, w.Code, "Expected zero quantity to be rejected")
	})

	t.Run("POST_SellerCannotCartOrBuyOwnProduct", func(t *testing.T) {
		w := do(router, http.MethodPost, "/cart/items", "seller", map[string]interface{}{"product_id": product.ID})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		w = do(router, http.MethodPost, "/purchases", "seller", map[string]string{"product_id": product.ID})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, api.CodeSelfPurchase, body.Code)
		assert.Nil(t, body.Transaction, "Expected no transaction for a self purchase")
	})

	t.Run("DELETE_OtherUsersCartEntry", func(t *testing.T) {
		w := do(router, http.MethodDelete, "/cart/items/"+b1Entry.ID, "b2", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("POST_PurchaseFromCart", func(t *testing.T) {
		w := do(router, http.MethodPost, fmt.Sprintf("/cart/items/%s/purchase", b1Entry.ID), "b1", nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var txn market.Transaction
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txn))
		assert.Equal(t, market.StatusCompleted, txn.Status)
		assert.Equal(t, "b1", txn.BuyerID)
		assert.Equal(t, "seller", txn.SellerID)
		assert.True(t, txn.Price.Equal(decimal.RequireFromString("120.50")))
	})

	t.Run("POST_SecondBuyerGetsUnavailable", func(t *testing.T) {
		w := do(router, http.MethodPost, "/purchases", "b2", map[string]string{"product_id": product.ID})
		assert.Equal(t, http.StatusGone, w.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, api.CodeProductUnavailable, body.Code)
		require.NotNil(t, body.Transaction, "Expected the failed transaction in the response")
		assert.Equal(t, market.StatusFailed, body.Transaction.Status)
	})

	drainEvictions(t, a)

	t.Run("GET_CartsNoLongerHoldSoldProduct", func(t *testing.T) {
		for _, user := range []string{"b1", "b2"} {
			w := do(router, http.MethodGet, "/cart", user, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var response struct {
				Items []market.CartItem `json:"items"`
				Count int               `json:"count"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Empty(t, response.Items, "Expected %s cart to be empty after the sale", user)
		}
	})

	t.Run("GET_SoldProductVisibility", func(t *testing.T) {
		w := do(router, http.MethodGet, "/products", "b2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Results  []market.Product `json:"results"`
			Metadata struct {
				Total int `json:"total"`
			} `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Zero(t, list.Metadata.Total)

		w = do(router, http.MethodGet, "/products/"+product.ID, "b2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = do(router, http.MethodGet, "/products/"+product.ID, "seller", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("GET_PurchaseHistory", func(t *testing.T) {
		w := do(router, http.MethodGet, "/purchases", "b1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Results []market.Transaction `json:"results"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Results, 1)
		assert.Equal(t, market.StatusCompleted, response.Results[0].Status)

		w = do(router, http.MethodGet, "/purchases?format=csv", "b2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2, "Expected header plus the failed attempt")
		assert.Equal(t, "failed", records[1][4])
		assert.Equal(t, market.ReasonUnavailable, records[1][5])
	})
}

// TestMarketplace_ConcurrentBuyers has many buyers race for one listing.
func TestMarketplace_ConcurrentBuyers(t *testing.T) {
	router, _ := InitRoutesTests(t)
	product := createProduct(t, router, "seller", "Rare vinyl", "75.00")

	const buyers = 12
	codes := make([]int, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := do(router, http.MethodPost, "/purchases", fmt.Sprintf("buyer-%d", i), map[string]string{"product_id": product.ID})
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict, http.StatusGone:
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	assert.Equal(t, 1, created, "Expected exactly one buyer to win")
}

func TestMarketplace_UnlistEvictsFromCarts(t *testing.T) {
	router, a := InitRoutesTests(t)
	product := createProduct(t, router, "seller", "Desk lamp", "15")

	w := do(router, http.MethodPost, "/cart/items", "b1", map[string]interface{}{"product_id": product.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(router, http.MethodDelete, "/products/"+product.ID, "b1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodDelete, "/products/"+product.ID, "seller", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	drainEvictions(t, a)

	w = do(router, http.MethodGet, "/cart", "b1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = do(router, http.MethodPost, "/purchases", "b1", map[string]string{"product_id": product.ID})
	assert.Equal(t, http.StatusGone, w.Code)
}

// TestMarketplace_SellerRepricesAndSeesSoldListings edits a listing, sells it and
// checks the seller's own view and the buyer's receipt.
func TestMarketplace_SellerRepricesAndSeesSoldListings(t *testing.T) {
	router, _ := InitRoutesTests(t)
	product := createProduct(t, router, "seller", "Record player", "60.00")
	other := createProduct(t, router, "seller", "Speaker", "25.00")

	w := do(router, http.MethodPatch, "/products/"+product.ID, "b1", map[string]string{"price": "1.00"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(router, http.MethodPatch, "/products/"+product.ID, "seller", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPatch, "/products/"+product.ID, "seller", map[string]string{"price": "55.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var repriced market.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repriced))
	assert.True(t, repriced.Price.Equal(decimal.RequireFromString("55.00")))

	w = do(router, http.MethodPost, "/purchases", "b1", map[string]string{"product_id": product.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodPatch, "/products/"+product.ID, "seller", map[string]string{"price": "10.00"})
	assert.Equal(t, http.StatusGone, w.Code, "Expected a sold product to keep its price")

	w = do(router, http.MethodGet, "/products/mine", "seller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine struct {
		Results []market.Product `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	require.Len(t, mine.Results, 2)
	byID := map[string]market.Product{}
	for _, p := range mine.Results {
		byID[p.ID] = p
	}
	assert.False(t, byID[product.ID].IsAvailable, "Expected the sold listing to be included")
	assert.True(t, byID[other.ID].IsAvailable)

	w = do(router, http.MethodGet, "/purchases", "b1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Results []market.Transaction `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Results, 1)
	assert.True(t, history.Results[0].Price.Equal(decimal.RequireFromString("55.00")))
}

func TestMarketplace_RequiresIdentity(t *testing.T) {
	router, _ := InitRoutesTests(t)

	w := do(router, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
