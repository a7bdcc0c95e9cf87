// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebus-chat/rebus/services/cipher/engine"
	"github.com/rebus-chat/rebus/services/cipher/index"
	"github.com/rebus-chat/rebus/services/cipher/keyalloc"
	"github.com/rebus-chat/rebus/services/gateway/handlers"
	"github.com/rebus-chat/rebus/services/gateway/history"
	"github.com/rebus-chat/rebus/services/gateway/middleware"
	"github.com/rebus-chat/rebus/services/gateway/presence"
)

// Deps carries the wired gateway dependencies into route setup.
type Deps struct {
	History history.Store
	Tracker *presence.Tracker
	Feed    *handlers.Feed
	Engine  *engine.Engine
	Indexer *index.Indexer
	Alloc   *keyalloc.Allocator

	// Limiter throttles the cipher endpoints. Nil disables limiting.
	Limiter *middleware.RateLimiter

	// UploadDir holds chat image uploads, KeysDir the per-key bucket
	// copies written by the index build.
	UploadDir string
	KeysDir   string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Uploaded chat images and ciphertext bucket copies are plain
	// files; thumbnails are derived on the fly.
	router.Static("/static/uploads", deps.UploadDir)
	router.Static("/static/keys", deps.KeysDir)
	router.GET("/thumbs/keys/*filepath", handlers.Thumbnail(deps.KeysDir))

	router.POST("/upload", handlers.Upload(deps.UploadDir))

	api := router.Group("/api")
	{
		api.POST("/heartbeat", handlers.Heartbeat(deps.Tracker))
		api.POST("/send_message", handlers.SendMessage(deps.History, deps.Feed))
		api.POST("/send_image", handlers.SendImage(deps.History, deps.Feed))
		api.GET("/messages", handlers.Messages(deps.History))
		api.POST("/logout", handlers.Logout(deps.Tracker))
		api.GET("/ws", handlers.ChatFeed(deps.Feed))

		api.POST("/assign_key", handlers.AssignKey(deps.Alloc, deps.Tracker))

		// The cipher endpoints fingerprint images; keep them behind
		// the rate limiter.
		cipher := api.Group("")
		if deps.Limiter != nil {
			cipher.Use(deps.Limiter.Middleware())
		}
		cipher.POST("/encrypt_text", handlers.EncryptText(deps.Engine, deps.Indexer))
		cipher.POST("/decrypt_images", handlers.DecryptImages(deps.Engine))
	}
}
