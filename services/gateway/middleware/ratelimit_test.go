// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// Tests for the gateway rate limiter.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(rl *RateLimiter) *gin.Engine {
	router := gin.New()
	router.POST("/limited", rl.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doPost(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/limited", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	router := newLimitedRouter(rl)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.1:5000"), "request %d within burst", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, doPost(router, "10.0.0.1:5000"))
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	router := newLimitedRouter(rl)

	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, doPost(router, "10.0.0.1:5000"))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.2:5000"))
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	router := newLimitedRouter(rl)

	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, doPost(router, "10.0.0.1:5000"))

	// 100 rps refills a token within 10ms.
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doPost(router, "10.0.0.1:5000"))
}

func TestRateLimiterRejectionBody(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	router := newLimitedRouter(rl)

	doPost(router, "10.0.0.1:5000")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/limited", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limited")
}

func TestRateLimiterEvictsStaleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.allow("old-client")
	assert.Equal(t, 1, rl.tracked())

	// Beyond the TTL, a full map evicts the stale bucket.
	rl.now = func() time.Time { return base.Add(clientTTL + time.Minute) }
	rl.mu.Lock()
	rl.evictStaleLocked()
	rl.mu.Unlock()
	assert.Equal(t, 0, rl.tracked())
}
