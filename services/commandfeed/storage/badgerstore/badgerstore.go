// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the command-history store on BadgerDB.
//
// # Description
//
// Records are JSON documents wrapped in an etag envelope under prefixed
// keys: core/<commandId>, status/<commandId>/<assetGroupId>, and
// export/<commandId>/<assetGroupId>. The etag is rotated on every write;
// replace-if-match compares it inside the transaction, so a stale etag
// fails with a conflict and never partially applies.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/history"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the BadgerDB-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is
	// true, required otherwise.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites a
	// value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and five-minute
// GC cycles.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

const (
	corePrefix   = "core/"
	statusPrefix = "status/"
	exportPrefix = "export/"
)

// document is the stored envelope: the record body plus its current etag.
type document struct {
	ETag string          `json:"etag"`
	Body json.RawMessage `json:"body"`
}

// Store implements history.Store on BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; conflicting writers are serialized by the etag
// compare inside each transaction.
type Store struct {
	db       *badger.DB
	gcStop   chan struct{}
	gcDone   chan struct{}
	inMemory bool
}

var _ history.Store = (*Store)(nil)

// Open creates and opens the store with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC (if running) and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// =============================================================================
// Keys
// =============================================================================

func coreKey(commandID string) []byte {
	return []byte(corePrefix + commandID)
}

func statusKey(commandID, assetGroupID string) []byte {
	return []byte(statusPrefix + commandID + "/" + assetGroupID)
}

func exportKey(commandID, assetGroupID string) []byte {
	return []byte(exportPrefix + commandID + "/" + assetGroupID)
}

// =============================================================================
// Envelope Operations
// =============================================================================

func (s *Store) create(ctx context.Context, key []byte, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	doc, err := json.Marshal(document{ETag: uuid.NewString(), Body: body})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return history.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, doc)
	})
	if errors.Is(err, badger.ErrConflict) {
		return history.ErrAlreadyExists
	}
	return err
}

func (s *Store) read(ctx context.Context, key []byte, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var etag string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return history.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var doc document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("decoding document: %w", err)
			}
			etag = doc.ETag
			return json.Unmarshal(doc.Body, record)
		})
	})
	return etag, err
}

func (s *Store) replace(ctx context.Context, key []byte, record any, etag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	next, err := json.Marshal(document{ETag: uuid.NewString(), Body: body})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return history.ErrNotFound
		}
		if err != nil {
			return err
		}
		var current document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}
		if current.ETag != etag {
			return history.ErrConflict
		}
		return txn.Set(key, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Badger's own optimistic check tripped: same outcome as a stale
		// etag for callers.
		return history.ErrConflict
	}
	return err
}

// =============================================================================
// history.Store Implementation
// =============================================================================

func (s *Store) CreateCore(ctx context.Context, record *datatypes.CommandHistoryCoreRecord) error {
	return s.create(ctx, coreKey(record.CommandID), record)
}

func (s *Store) ReadCore(ctx context.Context, commandID string) (*datatypes.CommandHistoryCoreRecord, string, error) {
	var record datatypes.CommandHistoryCoreRecord
	etag, err := s.read(ctx, coreKey(commandID), &record)
	if err != nil {
		return nil, "", err
	}
	return &record, etag, nil
}

func (s *Store) ReplaceCore(ctx context.Context, record *datatypes.CommandHistoryCoreRecord, etag string) error {
	return s.replace(ctx, coreKey(record.CommandID), record, etag)
}

func (s *Store) CreateStatus(ctx context.Context, record *datatypes.CommandHistoryAssetGroupStatusRecord) error {
	return s.create(ctx, statusKey(record.CommandID, record.AssetGroupID), record)
}

func (s *Store) ReadStatus(ctx context.Context, commandID, assetGroupID string) (*datatypes.CommandHistoryAssetGroupStatusRecord, string, error) {
	var record datatypes.CommandHistoryAssetGroupStatusRecord
	etag, err := s.read(ctx, statusKey(commandID, assetGroupID), &record)
	if err != nil {
		return nil, "", err
	}
	return &record, etag, nil
}

func (s *Store) ReplaceStatus(ctx context.Context, record *datatypes.CommandHistoryAssetGroupStatusRecord, etag string) error {
	return s.replace(ctx, statusKey(record.CommandID, record.AssetGroupID), record, etag)
}

func (s *Store) ListStatuses(ctx context.Context, commandID string) ([]*datatypes.CommandHistoryAssetGroupStatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(statusPrefix + commandID + "/")
	var out []*datatypes.CommandHistoryAssetGroupStatusRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record datatypes.CommandHistoryAssetGroupStatusRecord
			err := it.Item().Value(func(val []byte) error {
				var doc document
				if err := json.Unmarshal(val, &doc); err != nil {
					return err
				}
				return json.Unmarshal(doc.Body, &record)
			})
			if err != nil {
				return err
			}
			out = append(out, &record)
		}
		return nil
	})
	return out, err
}

func (s *Store) FindStatusByLease(ctx context.Context, commandID, leaseID string) (*datatypes.CommandHistoryAssetGroupStatusRecord, string, error) {
	statuses, err := s.ListStatuses(ctx, commandID)
	if err != nil {
		return nil, "", err
	}
	for _, status := range statuses {
		if status.LeaseID == leaseID {
			// Re-read for the etag of the individual document.
			return s.ReadStatus(ctx, commandID, status.AssetGroupID)
		}
	}
	return nil, "", history.ErrNotFound
}

func (s *Store) CreateExportDestination(ctx context.Context, record *datatypes.CommandHistoryExportDestinationRecord) error {
	return s.create(ctx, exportKey(record.CommandID, record.AssetGroupID), record)
}

func (s *Store) ReadExportDestination(ctx context.Context, commandID, assetGroupID string) (*datatypes.CommandHistoryExportDestinationRecord, string, error) {
	var record datatypes.CommandHistoryExportDestinationRecord
	etag, err := s.read(ctx, exportKey(commandID, assetGroupID), &record)
	if err != nil {
		return nil, "", err
	}
	return &record, etag, nil
}

func (s *Store) ListOpenCommandIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(corePrefix)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var doc document
				if err := json.Unmarshal(val, &doc); err != nil {
					return err
				}
				var record datatypes.CommandHistoryCoreRecord
				if err := json.Unmarshal(doc.Body, &record); err != nil {
					return err
				}
				if !record.IsGloballyComplete {
					out = append(out, strings.TrimPrefix(string(item.Key()), corePrefix))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
