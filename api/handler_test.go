package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api_marketplace/internal/market"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{market.ErrConflict, http.StatusConflict, CodePurchaseConflict},
		{fmt.Errorf("wrapped: %w", market.ErrConflict), http.StatusConflict, CodePurchaseConflict},
		{market.ErrUnavailable, http.StatusGone, CodeProductUnavailable},
		{market.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{market.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{market.ErrSelfPurchase, http.StatusUnprocessableEntity, CodeSelfPurchase},
		{market.ErrInvalidQuantity, http.StatusBadRequest, CodeInvalidRequest},
		{market.Transient(errors.New("i/o timeout")), http.StatusServiceUnavailable, CodeTemporary},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func identityRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Identity(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": currentUser(c)})
	})
	return r
}

func whoami(t *testing.T, r *gin.Engine, header, value string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body["user"]
}

func TestIdentity_Header(t *testing.T) {
	r := identityRouter("")

	code, user := whoami(t, r, HeaderUserID, "alice")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", user)

	code, _ = whoami(t, r, "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestIdentity_JWT(t *testing.T) {
	r := identityRouter("s3cret")

	token, err := IssueToken("s3cret", "bob", time.Hour)
	require.NoError(t, err)
	code, user := whoami(t, r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bob", user)

	forged, err := IssueToken("other", "bob", time.Hour)
	require.NoError(t, err)
	code, _ = whoami(t, r, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, code)

	expired, err := IssueToken("s3cret", "bob", -time.Minute)
	require.NoError(t, err)
	code, _ = whoami(t, r, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = whoami(t, r, HeaderUserID, "bob")
	assert.Equal(t, http.StatusUnauthorized, code)
}
