// Package badger stores records in an embedded BadgerDB.
//
// Layout:
//
//	rec/<program_id>  -> record JSON
//	seq/<20-digit n>  -> program_id, one per append, n strictly increasing
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/repo"
)

var (
	recPrefix = []byte("rec/")
	seqPrefix = []byte("seq/")
)

type Store struct {
	db    *badger.DB
	owned bool

	mu   sync.Mutex
	next uint64
}

// New wraps an open database. Close on the store also closes db when owned
// is true.
func New(db *badger.DB, owned bool) (*Store, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	s := &Store{db: db, owned: owned}
	last, err := s.lastSeq()
	if err != nil {
		return nil, err
	}
	s.next = last + 1
	return s, nil
}

func recKey(id string) []byte {
	return append(append([]byte(nil), recPrefix...), id...)
}

func seqKey(n uint64) []byte {
	return append(append([]byte(nil), seqPrefix...), fmt.Sprintf("%020d", n)...)
}

func (s *Store) Append(ctx context.Context, rec domain.Record) error {
	rec, err := repo.Normalize(rec)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	n := s.next
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recKey(rec.ProgramID)); err == nil {
			return fmt.Errorf("%w: %s", repo.ErrDuplicate, rec.ProgramID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(recKey(rec.ProgramID), blob); err != nil {
			return err
		}
		return txn.Set(seqKey(n), []byte(rec.ProgramID))
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("insert record: %w", err)
	}
	s.next = n + 1
	return nil
}

func (s *Store) Get(ctx context.Context, programID string) (domain.Record, error) {
	var rec domain.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, programID)
		return err
	})
	return rec, err
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.Record, error) {
	var out []domain.Record
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, limit)
		if err != nil {
			return err
		}
		out = make([]domain.Record, 0, len(ids))
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = scanIDs(txn, 0)
		return err
	})
	return ids, err
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func getRecord(txn *badger.Txn, programID string) (domain.Record, error) {
	item, err := txn.Get(recKey(programID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Record{}, fmt.Errorf("%w: %s", repo.ErrNotFound, programID)
	}
	if err != nil {
		return domain.Record{}, err
	}
	var rec domain.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s: %w", programID, err)
	}
	return rec, nil
}

// scanIDs walks the sequence index backwards so a limit only touches the
// newest keys, then returns the ids oldest first.
func scanIDs(txn *badger.Txn, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = seqPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	seek := append(append([]byte(nil), seqPrefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(seqPrefix); it.Next() {
		id, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(id))
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (s *Store) lastSeq() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = seqPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte(nil), seqPrefix...), 0xFF))
		if !it.ValidForPrefix(seqPrefix) {
			return nil
		}
		key := bytes.TrimPrefix(it.Item().Key(), seqPrefix)
		n, err := strconv.ParseUint(string(key), 10, 64)
		if err != nil {
			return fmt.Errorf("parse sequence key %q: %w", key, err)
		}
		last = n
		return nil
	})
	return last, err
}
