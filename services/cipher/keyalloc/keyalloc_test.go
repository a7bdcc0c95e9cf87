// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package keyalloc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	keys []string
	err  error
}

func (d *fakeDirectory) ListKeys() ([]string, error) {
	return d.keys, d.err
}

// fakePresence is a minimal thread-safe PresenceView.
type fakePresence struct {
	mu   sync.Mutex
	keys map[string]string // userID -> key
	held map[string]struct{}
}

func newFakePresence() *fakePresence {
	return &fakePresence{keys: map[string]string{}, held: map[string]struct{}{}}
}

func (p *fakePresence) KeyOf(userID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[userID]
	return k, ok
}

func (p *fakePresence) BindKey(userID, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[userID] = key
	p.held[key] = struct{}{}
}

func (p *fakePresence) HeldKeys(time.Duration) map[string]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]struct{}, len(p.held))
	for k := range p.held {
		out[k] = struct{}{}
	}
	return out
}

func (p *fakePresence) markHeld(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[key] = struct{}{}
}

func TestAssignReturnsExistingKey(t *testing.T) {
	presence := newFakePresence()
	presence.BindKey("u1", "HELDKEY1")
	a := New(&fakeDirectory{}, presence, nil)

	key, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "HELDKEY1", key)
}

func TestAssignRecyclesFreeKey(t *testing.T) {
	presence := newFakePresence()
	dir := &fakeDirectory{keys: []string{"FREEKEY1"}}
	a := New(dir, presence, nil)

	key, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.True(t, existing, "a persisted key counts as existing")
	assert.Equal(t, "FREEKEY1", key)

	bound, ok := presence.KeyOf("u1")
	require.True(t, ok)
	assert.Equal(t, "FREEKEY1", bound)
}

func TestAssignSkipsHeldKeys(t *testing.T) {
	presence := newFakePresence()
	presence.markHeld("TAKEN123")
	dir := &fakeDirectory{keys: []string{"FREEKEY1", "TAKEN123"}}
	a := New(dir, presence, &Options{IntN: func(n int) int { return 0 }})

	key, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "FREEKEY1", key)
}

func TestAssignMintsWhenAllHeld(t *testing.T) {
	presence := newFakePresence()
	presence.markHeld("TAKEN123")
	dir := &fakeDirectory{keys: []string{"TAKEN123"}}
	a := New(dir, presence, &Options{
		Mint: func() (string, error) { return "MINTED99", nil },
	})

	key, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.False(t, existing, "minted keys are not existing")
	assert.Equal(t, "MINTED99", key)
}

func TestAssignMintsWhenDirectoryEmpty(t *testing.T) {
	a := New(&fakeDirectory{}, newFakePresence(), nil)

	key, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Len(t, key, 8)
}

func TestAssignDirectoryError(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("disk gone")}
	a := New(dir, newFakePresence(), nil)

	_, _, err := a.Assign("u1")
	require.Error(t, err)
}

func TestAssignMintError(t *testing.T) {
	a := New(&fakeDirectory{}, newFakePresence(), &Options{
		Mint: func() (string, error) { return "", errors.New("entropy gone") },
	})
	_, _, err := a.Assign("u1")
	require.Error(t, err)
}

func TestConcurrentAssignNeverSharesARecycledKey(t *testing.T) {
	presence := newFakePresence()
	dir := &fakeDirectory{keys: []string{"ONLYKEY1"}}
	a := New(dir, presence, nil)

	const users = 8
	results := make([]string, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _, err := a.Assign(string(rune('a' + i)))
			assert.NoError(t, err)
			results[i] = key
		}(i)
	}
	wg.Wait()

	seen := map[string]int{}
	for _, k := range results {
		require.NotEmpty(t, k)
		seen[k]++
	}
	assert.Equal(t, 1, seen["ONLYKEY1"], "the one persisted key is recycled exactly once")
	assert.Len(t, seen, users, "every participant got a distinct key")
}

func TestAssignIsStickyAcrossCalls(t *testing.T) {
	a := New(&fakeDirectory{keys: []string{"FREEKEY1"}}, newFakePresence(), nil)

	first, _, err := a.Assign("u1")
	require.NoError(t, err)
	second, existing, err := a.Assign("u1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first, second)
}
