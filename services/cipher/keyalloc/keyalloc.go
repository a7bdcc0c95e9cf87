// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package keyalloc assigns cipher keys to participants.
//
// Keys whose mappings are already on disk are recycled first: indexing a
// key is the expensive operation, so handing a newcomer an already-built
// key makes their first message cheap. A key is only recycled while no
// live participant holds it; otherwise a fresh key is minted.
package keyalloc

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

// DefaultHoldWindow is how recently a participant must have been seen for
// their key to count as occupied. Deliberately tighter than the online
// display window: a key frees up for reuse a little before its holder
// drops off the user list.
const DefaultHoldWindow = 15 * time.Second

// KeyDirectory lists the keys with persisted mappings. *index.Store
// satisfies it.
type KeyDirectory interface {
	ListKeys() ([]string, error)
}

// PresenceView is the slice of the presence tracker the allocator needs.
// Implementations must treat a participant who was assigned a key but has
// not heartbeated yet as holding it; otherwise a just-assigned key could
// be handed to the next caller before its owner's first heartbeat lands.
type PresenceView interface {
	// KeyOf returns the participant's current key, if any.
	KeyOf(userID string) (string, bool)

	// BindKey records that the participant now holds key.
	BindKey(userID, key string)

	// HeldKeys returns the keys held by participants seen within window.
	HeldKeys(window time.Duration) map[string]struct{}
}

// Options configures an Allocator.
type Options struct {
	// HoldWindow overrides DefaultHoldWindow.
	HoldWindow time.Duration

	// IntN overrides the selection randomness. Default: math/rand/v2.
	IntN func(n int) int

	// Mint overrides key generation. Default: keyspace.NewRandomKey.
	Mint func() (string, error)
}

// Allocator hands out keys. A single mutex serializes Assign so two
// concurrent newcomers can never be given the same recycled key.
type Allocator struct {
	dir      KeyDirectory
	presence PresenceView
	window   time.Duration
	intN     func(n int) int
	mint     func() (string, error)

	mu sync.Mutex
}

// New creates an Allocator. opts may be nil.
func New(dir KeyDirectory, presence PresenceView, opts *Options) *Allocator {
	a := &Allocator{
		dir:      dir,
		presence: presence,
		window:   DefaultHoldWindow,
		intN:     rand.IntN,
		mint:     keyspace.NewRandomKey,
	}
	if opts != nil {
		if opts.HoldWindow > 0 {
			a.window = opts.HoldWindow
		}
		if opts.IntN != nil {
			a.intN = opts.IntN
		}
		if opts.Mint != nil {
			a.mint = opts.Mint
		}
	}
	return a
}

// Assign returns the key for userID.
//
// Description:
//
//	Resolution order:
//	  1. The participant already holds a key → that key, existing=true.
//	  2. A persisted key no live participant holds → chosen uniformly at
//	     random, existing=true (its mapping is already built).
//	  3. Otherwise a freshly minted key, existing=false.
//
//	The chosen key is bound to the participant before returning, so a
//	concurrent Assign for another participant cannot pick it again.
func (a *Allocator) Assign(userID string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key, ok := a.presence.KeyOf(userID); ok {
		return key, true, nil
	}

	keys, err := a.dir.ListKeys()
	if err != nil {
		return "", false, err
	}
	held := a.presence.HeldKeys(a.window)

	candidates := keys[:0:0]
	for _, k := range keys {
		if _, taken := held[k]; !taken {
			candidates = append(candidates, k)
		}
	}

	if len(candidates) > 0 {
		key := candidates[a.intN(len(candidates))]
		a.presence.BindKey(userID, key)
		slog.Info("recycled persisted key", "user_id", userID, "candidates", len(candidates))
		return key, true, nil
	}

	key, err := a.mint()
	if err != nil {
		return "", false, err
	}
	a.presence.BindKey(userID, key)
	slog.Info("minted fresh key", "user_id", userID)
	return key, false, nil
}
