package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout:
//
//	e/<key>                  -> JSON-encoded Entry
//	s/<sourceID>\x00<key>    -> empty (source index)
const (
	entryPrefix  = "e/"
	sourcePrefix = "s/"
)

// BadgerStore implements IndexStore on an embedded BadgerDB. It needs no
// external service and is the default backend for single-host runs.
type BadgerStore struct {
	db *badger.DB
	// put writes one entry inside a transaction.
	put func(txn *badger.Txn, e Entry, val []byte) error
}

// badgerLogger routes Badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

// Infof is demoted to debug; Badger is chatty at info level.
func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

// OpenBadgerStore opens (creating if needed) a Badger database in dir. An
// empty dir opens an in-memory database.
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", dir, err)
	}
	return &BadgerStore{db: db, put: putEntry}, nil
}

func entryKey(key string) []byte { return []byte(entryPrefix + key) }

func sourceKeyPrefix(sourceID string) []byte {
	return []byte(sourcePrefix + sourceID + "\x00")
}

func sourceIndexKey(sourceID, key string) []byte {
	return append(sourceKeyPrefix(sourceID), key...)
}

// KeysBySource walks the source index for sourceID.
func (s *BadgerStore) KeysBySource(ctx context.Context, sourceID string, limit int) ([]string, error) {
	prefix := sourceKeyPrefix(sourceID)
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(keys) >= limit {
				break
			}
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: keys by source: %w", err)
	}
	return keys, nil
}

// Delete removes entries and their source index records in one transaction.
func (s *BadgerStore) Delete(_ context.Context, keys []string) ([]ItemResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			old, err := loadEntry(txn, k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete(sourceIndexKey(old.SourceID, k)); err != nil {
				return err
			}
			if err := txn.Delete(entryKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: delete: %w", err)
	}
	return succeedAll(keys), nil
}

// Upsert writes every entry in one transaction. A transaction that grows too
// large is committed and a new one started. When a later write fails, the
// entries already committed are reported as succeeded and the rest as failed;
// the call only errors when nothing was committed.
func (s *BadgerStore) Upsert(_ context.Context, entries []Entry) ([]ItemResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	results := succeedAll(entryKeys(entries))
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	// committed is the number of leading entries durably written.
	committed := 0
	fail := func(err error) ([]ItemResult, error) {
		if committed == 0 {
			return nil, err
		}
		for j := committed; j < len(results); j++ {
			if results[j].Succeeded {
				results[j] = ItemResult{Key: results[j].Key, Error: err.Error()}
			}
		}
		return results, nil
	}

	for i, e := range entries {
		val, err := json.Marshal(e)
		if err != nil {
			results[i] = ItemResult{Key: e.Key, Error: err.Error()}
			continue
		}

		err = s.put(txn, e, val)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fail(fmt.Errorf("badger: upsert commit: %w", err))
			}
			committed = i
			txn = s.db.NewTransaction(true)
			err = s.put(txn, e, val)
		}
		if err != nil {
			return fail(fmt.Errorf("badger: upsert %q: %w", e.Key, err))
		}
	}

	if err := txn.Commit(); err != nil {
		return fail(fmt.Errorf("badger: upsert commit: %w", err))
	}
	return results, nil
}

// putEntry writes e and its source index record, dropping a stale index
// record when the key moved to another source.
func putEntry(txn *badger.Txn, e Entry, val []byte) error {
	old, err := loadEntry(txn, e.Key)
	switch {
	case err == nil && old.SourceID != e.SourceID:
		if err := txn.Delete(sourceIndexKey(old.SourceID, e.Key)); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	if err := txn.Set(entryKey(e.Key), val); err != nil {
		return err
	}
	return txn.Set(sourceIndexKey(e.SourceID, e.Key), nil)
}

// loadEntry reads the entry stored under key.
func loadEntry(txn *badger.Txn, key string) (Entry, error) {
	var e Entry
	item, err := txn.Get(entryKey(key))
	if err != nil {
		return e, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

// Get returns the entry stored under key.
func (s *BadgerStore) Get(key string) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = loadEntry(txn, key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("badger: get %q: %w", key, err)
	}
	return e, found, nil
}

// Sources walks the source index and counts keys per source.
func (s *BadgerStore) Sources(ctx context.Context, limit int) ([]SourceCount, error) {
	counts := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sourcePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := it.Item().Key()[len(sourcePrefix):]
			if i := bytes.IndexByte(rest, 0); i >= 0 {
				counts[string(rest[:i])]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: sources: %w", err)
	}
	return sortedSources(counts, limit), nil
}

// Count walks the entry keys.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}
