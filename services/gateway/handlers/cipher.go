// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/engine"
	"github.com/rebus-chat/rebus/services/cipher/index"
	"github.com/rebus-chat/rebus/services/cipher/keyalloc"
	"github.com/rebus-chat/rebus/services/gateway/datatypes"
	"github.com/rebus-chat/rebus/services/gateway/observability"
	"github.com/rebus-chat/rebus/services/gateway/presence"
)

var cipherTracer = otel.Tracer("rebus.gateway.handlers")

// AssignKey hands the caller a cipher key: their currently bound key
// if they have one, a recycled free key otherwise, or a freshly minted
// one when everything persisted is held by an online user.
func AssignKey(alloc *keyalloc.Allocator, tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AssignKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing userId"})
			recordRequest("assign_key", false)
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing userId"})
			recordRequest("assign_key", false)
			return
		}

		// Record the display name before assignment so the allocator
		// sees this user as a (not yet heartbeating) participant.
		tracker.Register(req.UserID, req.Username)

		key, existing, err := alloc.Assign(req.UserID)
		if err != nil {
			slog.Error("Failed to assign cipher key", "error", err, "userId", req.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to assign key"})
			recordRequest("assign_key", false)
			return
		}

		c.JSON(http.StatusOK, datatypes.AssignKeyResponse{OK: true, Key: key, Existing: existing})
		recordRequest("assign_key", true)
	}
}

// EncryptText maps plaintext to an ordered list of ciphertext image
// URLs under /static/keys. The first request for a key triggers the
// bucket index build, which fingerprints the whole corpus; later
// requests reuse the persisted mapping.
func EncryptText(eng *engine.Engine, ix *index.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := cipherTracer.Start(c.Request.Context(), "EncryptText")
		defer span.End()

		var req datatypes.EncryptTextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing key or text"})
			recordRequest("encrypt_text", false)
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing key or text"})
			recordRequest("encrypt_text", false)
			return
		}
		if !datatypes.IsMintedKeyFormat(req.Key) {
			slog.Warn("Encrypting with a non-minted key format", "keyLength", len(req.Key))
		}

		start := time.Now()
		res, err := eng.Encrypt(ctx, req.Key, req.Text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if m := observability.DefaultMetrics; m != nil {
				m.RecordBuild(observability.BuildOutcomeError, 0)
			}
			switch {
			case errors.Is(err, engine.ErrEmptyKey), errors.Is(err, engine.ErrEmptyText):
				c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing key or text"})
			case errors.Is(err, corpus.ErrMissing):
				slog.Error("Cipher corpus is empty or missing", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "no corpus images available"})
			default:
				slog.Error("Failed to encrypt text", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "encryption failed"})
			}
			recordRequest("encrypt_text", false)
			return
		}
		elapsed := time.Since(start)
		span.SetAttributes(
			attribute.Int("rebus.cipher.images", len(res.Refs)),
			attribute.Bool("rebus.cipher.built_now", res.BuiltNow),
		)

		urls := make([]string, 0, len(res.Refs))
		for _, ref := range res.Refs {
			urls = append(urls, fmt.Sprintf("/static/keys/%s/%d/%s", res.SafeName, ref.Bucket, ref.Filename))
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordEncode(len(res.Refs))
			outcome := observability.BuildOutcomeLoaded
			if res.BuiltNow {
				outcome = observability.BuildOutcomeBuilt
			}
			m.RecordBuild(outcome, elapsed.Seconds())
			if km := ix.Cached(req.Key); km != nil {
				occ := km.Occupancy()
				counts := make(map[string]int, len(occ))
				for i, n := range occ {
					counts[strconv.Itoa(i)] = n
				}
				m.SetBucketOccupancy(counts)
			}
		}

		c.JSON(http.StatusOK, datatypes.EncryptTextResponse{
			OK:             true,
			Images:         urls,
			InitializedNow: res.BuiltNow,
		})
		recordRequest("encrypt_text", true)
	}
}

// DecryptImages recovers plaintext from uploaded ciphertext images,
// one character per image in upload order. Images whose fingerprint
// cannot be computed are skipped, matching the encrypt side which
// never emits such images.
func DecryptImages(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := cipherTracer.Start(c.Request.Context(), "DecryptImages")
		defer span.End()

		key := strings.TrimSpace(c.PostForm("key"))
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing key"})
			recordRequest("decrypt_images", false)
			return
		}
		form, err := c.MultipartForm()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no images received"})
			recordRequest("decrypt_images", false)
			return
		}
		files := form.File["images"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no images received"})
			recordRequest("decrypt_images", false)
			return
		}

		blobs := make([][]byte, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				slog.Warn("Failed to open uploaded ciphertext image", "error", err, "filename", fh.Filename)
				continue
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				slog.Warn("Failed to read uploaded ciphertext image", "error", err, "filename", fh.Filename)
				continue
			}
			blobs = append(blobs, data)
		}

		text, err := eng.Decrypt(ctx, key, blobs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, engine.ErrEmptyKey):
				c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing key"})
			case errors.Is(err, engine.ErrNoImages):
				c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no images received"})
			default:
				slog.Error("Failed to decrypt images", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "decryption failed"})
			}
			recordRequest("decrypt_images", false)
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordDecode(len(blobs))
		}
		span.SetAttributes(attribute.Int("rebus.cipher.images", len(blobs)))

		c.JSON(http.StatusOK, datatypes.DecryptImagesResponse{OK: true, Text: text})
		recordRequest("decrypt_images", true)
	}
}
