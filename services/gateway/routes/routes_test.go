// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/engine"
	"github.com/rebus-chat/rebus/services/cipher/index"
	"github.com/rebus-chat/rebus/services/cipher/keyalloc"
	"github.com/rebus-chat/rebus/services/gateway/handlers"
	"github.com/rebus-chat/rebus/services/gateway/history"
	"github.com/rebus-chat/rebus/services/gateway/middleware"
	"github.com/rebus-chat/rebus/services/gateway/presence"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	lib := corpus.NewLibrary(t.TempDir())
	store := index.NewStore(filepath.Join(t.TempDir(), "keys"))
	ix := index.New(lib, store, nil)
	tracker := presence.NewTracker()

	return Deps{
		History:   history.NewMemoryStore(),
		Tracker:   tracker,
		Feed:      handlers.NewFeed(),
		Engine:    engine.New(ix, nil),
		Indexer:   ix,
		Alloc:     keyalloc.New(store, tracker, nil),
		Limiter:   middleware.NewRateLimiter(10, 20),
		UploadDir: t.TempDir(),
		KeysDir:   t.TempDir(),
	}
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t))

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/upload"},
		{"GET", "/thumbs/keys/*filepath"},
		{"POST", "/api/heartbeat"},
		{"POST", "/api/send_message"},
		{"POST", "/api/send_image"},
		{"GET", "/api/messages"},
		{"POST", "/api/logout"},
		{"GET", "/api/ws"},
		{"POST", "/api/assign_key"},
		{"POST", "/api/encrypt_text"},
		{"POST", "/api/decrypt_images"},
	}

	routes := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("route %s %s not registered", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_StaticDirsServed(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t))

	routes := router.Routes()
	staticPrefixes := []string{"/static/uploads/*filepath", "/static/keys/*filepath"}
	for _, want := range staticPrefixes {
		found := false
		for _, r := range routes {
			if r.Method == "GET" && r.Path == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("static route %s not registered", want)
		}
	}
}

func TestSetupRoutes_HealthResponds(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
}

func TestSetupRoutes_MetricsResponds(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}
}

func TestSetupRoutes_NilLimiterDisablesThrottling(t *testing.T) {
	deps := testDeps(t)
	deps.Limiter = nil

	router := gin.New()
	SetupRoutes(router, deps)

	// With no limiter, repeated cipher calls never see 429. A bad
	// payload still yields 400, which is fine for this check.
	for i := 0; i < 30; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/encrypt_text", nil)
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d was throttled with a nil limiter", i)
		}
	}
}
