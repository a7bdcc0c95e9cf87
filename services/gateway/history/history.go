// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history stores the chat transcript the gateway serves to
// polling clients.
//
// Two implementations of Store exist: an in-memory ring (the default, no
// persistence) and a BadgerDB-backed archive that survives restarts. Both
// cap the transcript at MaxHistory messages and prune the oldest first.
package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxHistory is the maximum number of messages retained. Older messages
// are pruned as new ones arrive.
const MaxHistory = 200

// Message types.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeSystem = "system"
)

// Message is one chat transcript entry.
//
// Timestamp is RFC 3339 at second precision in UTC, for display. TsMs is
// the millisecond timestamp clients poll against (`?since=`).
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	TsMs      int64  `json:"tsMs"`
}

// NewMessage builds a Message with a fresh id and the current time.
func NewMessage(userID, username, msgType, content string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.New().String(),
		UserID:    userID,
		Username:  username,
		Type:      msgType,
		Content:   content,
		Timestamp: now.Truncate(time.Second).Format(time.RFC3339),
		TsMs:      now.UnixMilli(),
	}
}

// Store is the transcript backend.
type Store interface {
	// Append adds a message, pruning the oldest past MaxHistory.
	Append(ctx context.Context, msg Message) error

	// Since returns messages with TsMs strictly greater than sinceMs, in
	// append order. Since(ctx, 0) returns the full retained transcript.
	Since(ctx context.Context, sinceMs int64) ([]Message, error)

	// Close releases the backend's resources.
	Close() error
}

// MemoryStore is the default in-memory ring. The transcript is lost on
// restart, matching a deployment where history is ephemeral by intent.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs []Message
	cap  int
}

// NewMemoryStore creates a MemoryStore retaining MaxHistory messages.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cap: MaxHistory}
}

// Append adds msg and prunes the oldest entries past the cap.
func (s *MemoryStore) Append(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
	if len(s.msgs) > s.cap {
		keep := s.msgs[len(s.msgs)-s.cap:]
		s.msgs = append([]Message(nil), keep...)
	}
	return nil
}

// Since returns retained messages newer than sinceMs.
func (s *MemoryStore) Since(_ context.Context, sinceMs int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if m.TsMs > sinceMs {
			out = append(out, m)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// ParseBackend maps a REBUS_HISTORY_BACKEND value to a canonical backend
// name. Unknown or empty values fall back to "memory".
func ParseBackend(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "badger":
		return "badger"
	default:
		return "memory"
	}
}
