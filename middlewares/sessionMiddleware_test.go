package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	prev := config.GetRedisDB()
	config.SetRedisClient(client)
	t.Cleanup(func() {
		config.SetRedisClient(prev)
		_ = client.Close()
	})

	r := gin.New()
	r.Use(CorrelationMiddleware(), SessionMiddleware(), IdempotencyMiddleware())
	r.GET("/whoami", RequireSession(), func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		key, _ := utils.GetIdempotencyKeyFromContext(ctx)
		token, _ := utils.GetTokenFromContext(ctx)
		userId, _ := utils.GetUserIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"business_id":     businessId,
			"token":           token,
			"user_id":         userId,
			"actor":           utils.GetActorFromContext(ctx),
			"is_admin":        utils.GetIsAdminFromContext(ctx),
			"idempotency_key": key,
		})
	})
	return r
}

func TestSessionMiddlewareResolvesBusiness(t *testing.T) {
	r := newSessionRouter(t)
	require.NoError(t, config.SetRedisObject(context.Background(), SessionKey("tok-1"), Session{
		UserId:     7,
		Username:   "aye@example.com",
		Name:       "Aye",
		BusinessId: "biz-1",
	}, time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("token", "tok-1")
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	req.Header.Set(CorrelationIdHeader, "cid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"business_id":"biz-1"`)
	assert.Contains(t, w.Body.String(), `"idempotency_key":"key-1"`)
	assert.Contains(t, w.Body.String(), `"token":"tok-1"`)
	assert.Contains(t, w.Body.String(), `"user_id":7`)
	assert.Contains(t, w.Body.String(), `"is_admin":false`)
	assert.Equal(t, "cid-1", w.Header().Get(CorrelationIdHeader))
}

func TestSessionMiddlewareRejectsUnknownToken(t *testing.T) {
	r := newSessionRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("token", "expired")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(CorrelationIdHeader))
}

func TestIdempotencyKeyTooLong(t *testing.T) {
	r := newSessionRouter(t)
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'k'
	}
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(IdempotencyKeyHeader, string(long))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
