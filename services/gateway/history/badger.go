// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/rebus-chat/rebus/services/gateway/storage/badger"
)

// msgPrefix namespaces transcript entries inside the database.
const msgPrefix = "msg/"

// BadgerStore is the durable transcript backend.
//
// Keys are `msg/<tsMs as 16-digit hex>/<id>`, so lexicographic key order
// is chronological order and pruning the oldest is a prefix scan from the
// front. Values are the JSON-encoded Message.
type BadgerStore struct {
	db  *badger.DB
	cap int
}

// NewBadgerStore wraps an opened database. The store owns db and closes
// it in Close.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, cap: MaxHistory}
}

func msgKey(tsMs int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%016x/%s", msgPrefix, tsMs, id))
}

// Append writes msg and prunes entries beyond the cap, oldest first.
func (s *BadgerStore) Append(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		if err := txn.Set(msgKey(msg.TsMs, msg.ID), raw); err != nil {
			return err
		}
		return s.pruneLocked(txn)
	})
}

// pruneLocked removes the oldest entries until at most cap remain. Runs
// inside the Append transaction so a crash never leaves a half-pruned
// transcript visible.
func (s *BadgerStore) pruneLocked(txn *badgerdb.Txn) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(msgPrefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for i := 0; i < len(keys)-s.cap; i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Since returns messages with TsMs strictly greater than sinceMs, in key
// (chronological) order.
func (s *BadgerStore) Since(ctx context.Context, sinceMs int64) ([]Message, error) {
	var out []Message

	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(msgPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Hex timestamps sort lexicographically, so seeking to since+1
		// lands on the first strictly newer message.
		seek := msgKey(sinceMs+1, "")
		for it.Seek(seek); it.Valid(); it.Next() {
			var m Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
