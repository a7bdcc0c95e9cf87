// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebus-chat/rebus/services/gateway/storage/badger"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.OpenDBInMemory()
	require.NoError(t, err)
	s := NewBadgerStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreAppendAndSince(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, textMsg("a", 100)))
	require.NoError(t, s.Append(ctx, textMsg("b", 200)))
	require.NoError(t, s.Append(ctx, textMsg("c", 300)))

	all, err := s.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
	assert.Equal(t, "hello b", all[1].Content)
}

func TestBadgerStoreSinceIsStrict(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, textMsg("a", 100)))
	require.NoError(t, s.Append(ctx, textMsg("b", 200)))

	newer, err := s.Since(ctx, 100)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "b", newer[0].ID)

	none, err := s.Since(ctx, 300)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBadgerStoreChronologicalOrder(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	// Append out of timestamp order; reads come back chronological.
	require.NoError(t, s.Append(ctx, textMsg("late", 900)))
	require.NoError(t, s.Append(ctx, textMsg("early", 100)))

	all, err := s.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "early", all[0].ID)
	assert.Equal(t, "late", all[1].ID)
}

func TestBadgerStorePrunesOldest(t *testing.T) {
	db, err := badger.OpenDBInMemory()
	require.NoError(t, err)
	s := &BadgerStore{db: db, cap: 3}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, textMsg(fmt.Sprintf("m%d", i), int64(100+i))))
	}

	all, err := s.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m2", all[0].ID)
	assert.Equal(t, "m4", all[2].ID)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := badger.DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	ctx := context.Background()

	db, err := badger.OpenDB(cfg)
	require.NoError(t, err)
	s := NewBadgerStore(db)
	require.NoError(t, s.Append(ctx, textMsg("kept", 100)))
	require.NoError(t, s.Close())

	db2, err := badger.OpenDB(cfg)
	require.NoError(t, err)
	s2 := NewBadgerStore(db2)
	defer s2.Close()

	all, err := s2.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].ID)
}
