package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/joshua-takyi/platerank/internal/helpers"
)

func limitedRouter(t *testing.T, rps float64, burst int, user *uuid.UUID) *gin.Engine {
	t.Helper()
	rl := NewRateLimiter(rps, burst, newTestLogger())
	t.Cleanup(rl.Close)

	r := gin.New()
	if user != nil {
		r.Use(func(c *gin.Context) {
			c.Set(helpers.UserContextKey, &helpers.EnhancedClaims{UserID: *user})
			c.Next()
		})
	}
	r.POST("/like", rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func send(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/like", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit_WithinBurst(t *testing.T) {
	r := limitedRouter(t, 10, 10, nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send(r, "192.168.1.1:12345").Code, "request %d should pass", i+1)
	}
}

func TestRateLimit_ExceedingBurst(t *testing.T) {
	r := limitedRouter(t, 0.001, 2, nil)

	assert.Equal(t, http.StatusOK, send(r, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, send(r, "10.0.0.1:1").Code)

	rr := send(r, "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rr.Body.Bytes()).Code)

	// a different client has its own bucket
	assert.Equal(t, http.StatusOK, send(r, "10.0.0.2:1").Code)
}

func TestRateLimit_KeyedByUser(t *testing.T) {
	user := uuid.New()
	r := limitedRouter(t, 0.001, 1, &user)

	assert.Equal(t, http.StatusOK, send(r, "10.0.0.1:1").Code)
	// same user from another address shares the bucket
	assert.Equal(t, http.StatusTooManyRequests, send(r, "10.0.0.9:1").Code)
}

func TestVisitorStore_Cleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newVisitorStore(1, 1, time.Minute)
	s.nowFunc = func() time.Time { return now }

	s.getVisitor("a")
	now = now.Add(30 * time.Second)
	s.getVisitor("b")
	now = now.Add(45 * time.Second)

	s.cleanup()

	assert.Equal(t, 1, s.len())
}
