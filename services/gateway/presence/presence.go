// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package presence tracks which participants are currently online and
// which cipher key each of them holds.
//
// Liveness is heartbeat-driven: the client POSTs /api/heartbeat every few
// seconds and a participant counts as online while their last heartbeat is
// within OnlineWindow. Key occupancy uses the tighter hold window the key
// allocator passes in, so a key frees up for reuse slightly before its
// holder disappears from the user list.
//
// A participant who has been assigned a key but has never heartbeated is
// treated as holding that key. Without that rule, two users logging in at
// the same moment could both be handed the one free key.
//
// All methods are safe for concurrent use.
package presence

import (
	"sort"
	"sync"
	"time"
)

// OnlineWindow is how recently a participant must have heartbeated to
// appear in the online list. Client heartbeats arrive every 7-8 seconds,
// so this tolerates a couple of missed beats.
const OnlineWindow = 25 * time.Second

// Participant is the tracked state for one user.
type Participant struct {
	Username   string
	Key        string
	LastSeenMs int64 // 0 until the first heartbeat
}

// OnlineUser is the wire shape of one entry in the online list.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Tracker is an in-memory presence registry.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]Participant
	now   func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		users: make(map[string]Participant),
		now:   time.Now,
	}
}

// Touch records a heartbeat: the participant's display name and last-seen
// time are updated, any key binding is preserved.
func (t *Tracker) Touch(userID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.users[userID]
	p.Username = username
	p.LastSeenMs = t.now().UnixMilli()
	t.users[userID] = p
}

// Register records the participant's display name without counting as a
// heartbeat. Used on the assign-key path, which can run before the first
// heartbeat lands.
func (t *Tracker) Register(userID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.users[userID]
	p.Username = username
	t.users[userID] = p
}

// Remove drops the participant entirely, releasing any held key.
func (t *Tracker) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// Online returns the participants seen within OnlineWindow, sorted by
// user ID. Participants who have never heartbeated are not listed.
func (t *Tracker) Online() []OnlineUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.now().UnixMilli() - OnlineWindow.Milliseconds()
	out := make([]OnlineUser, 0, len(t.users))
	for id, p := range t.users {
		if p.LastSeenMs >= cutoff && p.LastSeenMs > 0 {
			out = append(out, OnlineUser{UserID: id, Username: p.Username})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// KeyOf returns the participant's current key, if any.
func (t *Tracker) KeyOf(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.users[userID]
	if !ok || p.Key == "" {
		return "", false
	}
	return p.Key, true
}

// BindKey records that the participant now holds key.
func (t *Tracker) BindKey(userID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.users[userID]
	p.Key = key
	t.users[userID] = p
}

// HeldKeys returns the keys held by participants seen within window.
// A participant with a key but no heartbeat yet counts as holding it.
func (t *Tracker) HeldKeys(window time.Duration) map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.now().UnixMilli() - window.Milliseconds()
	held := make(map[string]struct{})
	for _, p := range t.users {
		if p.Key == "" {
			continue
		}
		if p.LastSeenMs == 0 || p.LastSeenMs >= cutoff {
			held[p.Key] = struct{}{}
		}
	}
	return held
}

// Get returns a copy of the participant's record.
func (t *Tracker) Get(userID string) (Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.users[userID]
	return p, ok
}
