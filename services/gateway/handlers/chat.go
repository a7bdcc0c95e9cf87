// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/rebus-chat/rebus/services/gateway/datatypes"
	"github.com/rebus-chat/rebus/services/gateway/history"
	"github.com/rebus-chat/rebus/services/gateway/observability"
	"github.com/rebus-chat/rebus/services/gateway/presence"
)

var chatTracer = otel.Tracer("rebus.gateway.handlers")

// Heartbeat marks the caller online and returns the current roster.
// Clients poll this endpoint every few seconds; a user whose beats
// stop is dropped from the roster once the online window elapses.
func Heartbeat(tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.HeartbeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing userId"})
			recordRequest("heartbeat", false)
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing userId"})
			recordRequest("heartbeat", false)
			return
		}

		tracker.Touch(req.UserID, req.Username)
		c.JSON(http.StatusOK, gin.H{"ok": true, "users": tracker.Online()})
		recordRequest("heartbeat", true)
	}
}

// SendMessage appends a text message to the transcript and fans it out
// to websocket subscribers.
func SendMessage(store history.Store, feed *Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "SendMessage")
		defer span.End()

		var req datatypes.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad payload"})
			recordRequest("send_message", false)
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad payload"})
			recordRequest("send_message", false)
			return
		}

		msg := history.NewMessage(req.UserID, req.Username, history.TypeText, req.Content)
		if err := store.Append(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to append chat message", "error", err, "userId", req.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to store message"})
			recordRequest("send_message", false)
			return
		}
		if feed != nil {
			feed.Publish(msg)
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordMessage(history.TypeText)
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
		recordRequest("send_message", true)
	}
}

// SendImage appends an image message whose content is the URL returned
// by a prior upload.
func SendImage(store history.Store, feed *Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "SendImage")
		defer span.End()

		var req datatypes.SendImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad payload"})
			recordRequest("send_image", false)
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad payload"})
			recordRequest("send_image", false)
			return
		}

		msg := history.NewMessage(req.UserID, req.Username, history.TypeImage, req.URL)
		if err := store.Append(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to append image message", "error", err, "userId", req.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to store message"})
			recordRequest("send_image", false)
			return
		}
		if feed != nil {
			feed.Publish(msg)
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordMessage(history.TypeImage)
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
		recordRequest("send_image", true)
	}
}

// Messages returns transcript entries newer than the caller's
// watermark. The response carries the server clock so pollers can
// reuse it as their next "since" value without clock skew.
func Messages(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "Messages")
		defer span.End()

		since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
		if err != nil {
			since = 0
		}

		msgs, err := store.Since(ctx, since)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to read chat history", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to read history"})
			recordRequest("messages", false)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"messages":   msgs,
			"serverTime": time.Now().UnixMilli(),
		})
		recordRequest("messages", true)
	}
}

// Logout removes the caller from the roster and releases their cipher
// key for recycling. Always succeeds: a malformed or empty body is
// treated as an anonymous logout.
func Logout(tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LogoutRequest
		if err := c.ShouldBindJSON(&req); err == nil && req.UserID != "" {
			tracker.Remove(req.UserID)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
		recordRequest("logout", true)
	}
}
