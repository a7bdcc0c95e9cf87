// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

func TestHeartbeatRequestValidate(t *testing.T) {
	r := &HeartbeatRequest{UserID: "u1", Username: "alice"}
	assert.NoError(t, r.Validate())

	missing := &HeartbeatRequest{Username: "alice"}
	assert.Error(t, missing.Validate())
}

func TestEnsureDefaultsUsername(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"kept", "alice", "alice"},
		{"trimmed", "  bob  ", "bob"},
		{"blank", "   ", DefaultUsername},
		{"empty", "", DefaultUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &HeartbeatRequest{UserID: "u1", Username: tt.in}
			r.EnsureDefaults()
			assert.Equal(t, tt.want, r.Username)
		})
	}
}

func TestSendMessageRequestValidate(t *testing.T) {
	ok := &SendMessageRequest{UserID: "u1", Username: "alice", Content: "hello"}
	assert.NoError(t, ok.Validate())

	noContent := &SendMessageRequest{UserID: "u1", Username: "alice"}
	assert.Error(t, noContent.Validate())

	noUser := &SendMessageRequest{Username: "alice", Content: "hello"}
	assert.Error(t, noUser.Validate())
}

func TestMaxBytesIsByteLength(t *testing.T) {
	atCap := &SendMessageRequest{UserID: "u1", Content: strings.Repeat("a", MaxContentBytes)}
	assert.NoError(t, atCap.Validate())

	overCap := &SendMessageRequest{UserID: "u1", Content: strings.Repeat("a", MaxContentBytes+1)}
	assert.Error(t, overCap.Validate())

	// 1000 runes but 3000 bytes: the cap counts bytes.
	wide := &EncryptTextRequest{Key: "K", Text: strings.Repeat("界", 1000)}
	assert.Error(t, wide.Validate())
}

func TestEncryptTextRequestValidate(t *testing.T) {
	ok := &EncryptTextRequest{Key: "SECRET", Text: "HELLO"}
	assert.NoError(t, ok.Validate())

	assert.Error(t, (&EncryptTextRequest{Text: "HELLO"}).Validate())
	assert.Error(t, (&EncryptTextRequest{Key: "SECRET"}).Validate())
}

func TestSendImageRequestValidate(t *testing.T) {
	ok := &SendImageRequest{UserID: "u1", URL: "/static/uploads/a.png"}
	assert.NoError(t, ok.Validate())

	assert.Error(t, (&SendImageRequest{UserID: "u1"}).Validate())
}

func TestLogoutRequestValidate(t *testing.T) {
	assert.NoError(t, (&LogoutRequest{UserID: "u1"}).Validate())
	assert.Error(t, (&LogoutRequest{}).Validate())
}

func TestIsMintedKeyFormat(t *testing.T) {
	minted, err := keyspace.NewRandomKey()
	require.NoError(t, err)
	assert.True(t, IsMintedKeyFormat(minted))

	assert.True(t, IsMintedKeyFormat("ABCDEFGH"))
	assert.False(t, IsMintedKeyFormat("short"), "wrong length")
	assert.False(t, IsMintedKeyFormat("abcdefgh"), "lowercase is outside the charset")
	assert.False(t, IsMintedKeyFormat("ABCDEFG1"), "1 is excluded as confusable")
	assert.False(t, IsMintedKeyFormat("ABCDEFGHJ"), "too long")
	assert.False(t, IsMintedKeyFormat(""))
}
