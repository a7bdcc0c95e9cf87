// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the gateway
// API, with validation via go-playground/validator.
//
// Every request type has a Validate method (run after JSON binding) and,
// where the reference client may omit fields, an EnsureDefaults method
// that fills them in (display names default to "anonymous").
package datatypes

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// DefaultUsername substitutes for a missing or blank display name.
	DefaultUsername = "anonymous"

	// MaxUsernameRunes caps display names.
	MaxUsernameRunes = 64

	// MaxKeyRunes caps cipher keys. Any non-empty key is legal input to
	// the cipher core; this only bounds request size.
	MaxKeyRunes = 128

	// MaxContentBytes caps a chat message body.
	MaxContentBytes = 8 * 1024

	// MaxPlaintextBytes caps the text accepted by encrypt_text. Every
	// character becomes one image URL, so this bounds response fan-out.
	MaxPlaintextBytes = 2048
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// gatewayValidate is the validator for gateway request types,
// initialized in init() with the custom rules below.
var gatewayValidate *validator.Validate

func init() {
	gatewayValidate = validator.New()
	_ = gatewayValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = gatewayValidate.RegisterValidation("cipherkey", validateCipherKey)
}

// validateMaxBytes enforces a byte-length cap given as the rule
// parameter, e.g. `maxbytes=2048`. Byte length, not rune count, so large
// multi-byte payloads cannot dodge the cap.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// validateCipherKey accepts exactly the minted-key format: KeyLength
// characters drawn from KeyCharset.
func validateCipherKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if len(key) != keyspace.KeyLength {
		return false
	}
	for _, r := range key {
		if !strings.ContainsRune(keyspace.KeyCharset, r) {
			return false
		}
	}
	return true
}

// IsMintedKeyFormat reports whether key looks like a key this system
// minted. Used for advisory logging only: hand-chosen passphrases are
// legal keys, they just did not come from the allocator.
func IsMintedKeyFormat(key string) bool {
	return gatewayValidate.Var(key, "cipherkey") == nil
}

// cleanUsername trims the name and falls back to DefaultUsername.
func cleanUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUsername
	}
	return name
}

// =============================================================================
// Presence Requests
// =============================================================================

// HeartbeatRequest is the body of POST /api/heartbeat.
type HeartbeatRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username" validate:"max=64"`
}

func (r *HeartbeatRequest) EnsureDefaults() {
	r.Username = cleanUsername(r.Username)
}

func (r *HeartbeatRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// LogoutRequest is the body of POST /api/logout, usually delivered via
// sendBeacon as the page closes.
type LogoutRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (r *LogoutRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// =============================================================================
// Chat Requests
// =============================================================================

// SendMessageRequest is the body of POST /api/send_message.
type SendMessageRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username" validate:"max=64"`
	Content  string `json:"content" validate:"required,maxbytes=8192"`
}

func (r *SendMessageRequest) EnsureDefaults() {
	r.Username = cleanUsername(r.Username)
	r.Content = strings.TrimSpace(r.Content)
}

func (r *SendMessageRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// SendImageRequest is the body of POST /api/send_image. URL is the
// upload URL returned by POST /upload, relative to this gateway.
type SendImageRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username" validate:"max=64"`
	URL      string `json:"url" validate:"required,max=512"`
}

func (r *SendImageRequest) EnsureDefaults() {
	r.Username = cleanUsername(r.Username)
	r.URL = strings.TrimSpace(r.URL)
}

func (r *SendImageRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// =============================================================================
// Cipher Requests
// =============================================================================

// AssignKeyRequest is the body of POST /api/assign_key.
type AssignKeyRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username" validate:"max=64"`
}

func (r *AssignKeyRequest) EnsureDefaults() {
	r.Username = cleanUsername(r.Username)
}

func (r *AssignKeyRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// EncryptTextRequest is the body of POST /api/encrypt_text.
//
// Key is not restricted to the minted format: the cipher accepts any
// non-empty string as a key. Handlers log a warning when the key does
// not look minted, since that usually means a typo at the client.
type EncryptTextRequest struct {
	Key  string `json:"key" validate:"required,max=128"`
	Text string `json:"text" validate:"required,maxbytes=2048"`
}

func (r *EncryptTextRequest) EnsureDefaults() {
	r.Key = strings.TrimSpace(r.Key)
	r.Text = strings.TrimSpace(r.Text)
}

func (r *EncryptTextRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// =============================================================================
// Responses
// =============================================================================

// EncryptTextResponse carries the ordered ciphertext image URLs.
// InitializedNow reports whether this request triggered the first-use
// index build for the key.
type EncryptTextResponse struct {
	OK             bool     `json:"ok"`
	Images         []string `json:"images"`
	InitializedNow bool     `json:"initializedNow"`
}

// DecryptImagesResponse carries the recovered plaintext.
type DecryptImagesResponse struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// AssignKeyResponse reports the assigned key. Existing is true both for
// the requester's own prior key and for a recycled persisted key; it is
// false only for a freshly minted one.
type AssignKeyResponse struct {
	OK       bool   `json:"ok"`
	Key      string `json:"key"`
	Existing bool   `json:"existing"`
}

// UploadResponse reports a stored upload and its serving URL.
type UploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}
