// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin handlers for the Rebus gateway.
//
// Handlers are constructed as factories that close over their
// dependencies (history store, presence tracker, cipher engine), so
// tests can wire fakes without global state. Request and response
// shapes live in the datatypes package.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rebus-chat/rebus/services/gateway/observability"
)

// recordRequest bumps the per-endpoint request counter when metrics
// are initialized. Tests run without metrics.
func recordRequest(endpoint string, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, success)
	}
}

// HealthCheck reports gateway liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rebus-gateway",
	})
}
