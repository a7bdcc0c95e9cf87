// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the Rebus gateway.
//
// The cipher endpoints are orders of magnitude more expensive than the
// chat endpoints: a cold /api/encrypt_text fingerprints the entire
// image corpus to build the key's bucket index. The rate limiter here
// keeps one misbehaving client from monopolizing that work.
//
//	Request
//	   │
//	   ▼
//	RateLimiter.Middleware
//	   │
//	   ├─► look up the caller's token bucket (by client IP)
//	   │
//	   ├─► Allow? ──no──► 429 {"ok": false, "error": "rate limited"}
//	   │
//	   ▼
//	Handler
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter map. When the cap is exceeded,
// buckets idle longer than the TTL are evicted on the next request.
const maxTrackedClients = 4096

// clientTTL is how long an idle client's bucket is kept.
const clientTTL = 3 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket.
//
// # Description
//
// Each client IP gets an independent bucket refilled at rps tokens per
// second with the given burst capacity. State is in-memory and
// per-process; a gateway restart resets all buckets.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter builds a limiter allowing rps sustained requests per
// second per client, with bursts up to burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Middleware returns the Gin middleware enforcing this limiter.
//
// # Examples
//
//	rl := middleware.NewRateLimiter(2, 5)
//	api.POST("/encrypt_text", rl.Middleware(), handlers.EncryptText(eng, ix))
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate limited"})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[clientID]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.evictStaleLocked()
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[clientID] = cl
	}
	cl.lastSeen = rl.now()
	return cl.limiter.Allow()
}

func (rl *RateLimiter) evictStaleLocked() {
	cutoff := rl.now().Add(-clientTTL)
	for id, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}

// tracked reports the number of client buckets currently held.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
