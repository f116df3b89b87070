// Package badgerstore keeps the audit ledger in an embedded Badger database
// for single-node deployments without PostgreSQL.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"mailvault.org/internal/ledger"
	"mailvault.org/internal/obs"
)

var (
	entryPrefix = []byte("ledger/entry/")
	idPrefix    = []byte("ledger/id/")
	tailKey     = []byte("ledger/tail")
)

// Store implements ledger.Store on Badger. Entries are keyed by big-endian
// sequence number so key order is chain order.
type Store struct {
	db *badger.DB
}

var _ ledger.Store = (*Store)(nil)

// Open opens or creates a store at path. An empty path opens an in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func entryKey(seq uint64) []byte {
	k := make([]byte, len(entryPrefix)+8)
	copy(k, entryPrefix)
	binary.BigEndian.PutUint64(k[len(entryPrefix):], seq)
	return k
}

func idKey(id string) []byte {
	return append(append([]byte(nil), idPrefix...), id...)
}

func readEntry(item *badger.Item) (ledger.Entry, error) {
	var e ledger.Entry
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

func getEntry(txn *badger.Txn, seq uint64) (ledger.Entry, error) {
	item, err := txn.Get(entryKey(seq))
	if err != nil {
		return ledger.Entry{}, err
	}
	return readEntry(item)
}

// AppendLinked runs inside one update transaction; Badger aborts it with
// ErrConflict if another writer moved the tail first.
func (s *Store) AppendLinked(_ context.Context, link ledger.LinkFunc) (ledger.Entry, error) {
	var out ledger.Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		var tail *ledger.Entry
		item, err := txn.Get(tailKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			t, err := getEntry(txn, binary.BigEndian.Uint64(raw))
			if err != nil {
				return fmt.Errorf("read tail entry: %w", err)
			}
			tail = &t
		}

		e, err := link(tail)
		if err != nil {
			return err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, e.Seq)
		if err := txn.Set(entryKey(e.Seq), val); err != nil {
			return err
		}
		if err := txn.Set(idKey(e.ID), seq); err != nil {
			return err
		}
		if err := txn.Set(tailKey, seq); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return out, nil
}

func (s *Store) Scan(_ context.Context, afterSeq uint64, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: entryPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(entryKey(afterSeq + 1)); it.ValidForPrefix(entryPrefix); it.Next() {
			e, err := readEntry(it.Item())
			if err != nil {
				return err
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Get(_ context.Context, id string) (ledger.Entry, error) {
	var out ledger.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out, err = getEntry(txn, binary.BigEndian.Uint64(raw))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return out, err
}

func (s *Store) List(_ context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	out := make([]ledger.Entry, 0, f.Limit)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: entryPrefix, Reverse: true, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		skipped := 0
		seekKey := append(bytes.Clone(entryPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(entryPrefix) && len(out) < f.Limit; it.Next() {
			e, err := readEntry(it.Item())
			if err != nil {
				return err
			}
			if !f.Matches(e) {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any)   { obs.Logger().Error().Str("component", "badger").Msgf(f, v...) }
func (badgerLogger) Warningf(f string, v ...any) { obs.Logger().Warn().Str("component", "badger").Msgf(f, v...) }
func (badgerLogger) Infof(f string, v ...any)    { obs.Logger().Debug().Str("component", "badger").Msgf(f, v...) }
func (badgerLogger) Debugf(f string, v ...any)   { obs.Logger().Debug().Str("component", "badger").Msgf(f, v...) }
