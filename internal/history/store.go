// Package history keeps recent transcripts in an embedded badger database.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"whispr/internal/domain"
)

var keyPrefix = []byte("transcript/")

type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// MaxEntries bounds the history; zero keeps everything.
	MaxEntries int
	Logger     *slog.Logger
}

type Store struct {
	db         *badger.DB
	maxEntries int
	logger     *slog.Logger
}

func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("history path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	opts.Logger.Info("history opened", "path", opts.Path, "in_memory", opts.InMemory)
	return &Store{db: db, maxEntries: opts.MaxEntries, logger: opts.Logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Deliver records the transcript. Empty transcripts are skipped.
func (s *Store) Deliver(_ context.Context, transcript domain.Transcript) error {
	if strings.TrimSpace(transcript.Text) == "" {
		return nil
	}
	value, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(transcript), value)
	}); err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	if s.maxEntries > 0 {
		if err := s.prune(); err != nil {
			s.logger.Warn("history prune failed", "error", err)
		}
	}
	return nil
}

// Recent returns up to n transcripts, newest first. n <= 0 returns all.
func (s *Store) Recent(n int) ([]domain.Transcript, error) {
	var out []domain.Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		return iterateNewest(txn, func(item *badger.Item) (bool, error) {
			if n > 0 && len(out) >= n {
				return false, nil
			}
			var t domain.Transcript
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return false, fmt.Errorf("decode transcript %q: %w", item.Key(), err)
			}
			out = append(out, t)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) prune() error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		seen := 0
		return iterateNewest(txn, func(item *badger.Item) (bool, error) {
			seen++
			if seen > s.maxEntries {
				stale = append(stale, item.KeyCopy(nil))
			}
			return true, nil
		})
	})
	if err != nil || len(stale) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func iterateNewest(txn *badger.Txn, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = keyPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte(nil), keyPrefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(keyPrefix); it.Next() {
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// entryKey sorts by creation time, then by ID.
func entryKey(t domain.Transcript) []byte {
	key := make([]byte, 0, len(keyPrefix)+9+len(t.ID))
	key = append(key, keyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(t.CreatedAt.UnixNano()))
	key = append(key, '/')
	return append(key, t.ID...)
}
