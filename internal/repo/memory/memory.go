// Package memory is an in-process RecordStore.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/repo"
)

// Store keeps records as their JSON encoding so callers never share state
// with what was stored.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string][]byte
}

func New() *Store {
	return &Store{byID: make(map[string][]byte)}
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
	if _, exists := s.byID[rec.ProgramID]; exists {
		return fmt.Errorf("%w: %s", repo.ErrDuplicate, rec.ProgramID)
	}
	s.byID[rec.ProgramID] = blob
	s.order = append(s.order, rec.ProgramID)
	return nil
}

func (s *Store) Get(ctx context.Context, programID string) (domain.Record, error) {
	s.mu.RLock()
	blob, ok := s.byID[programID]
	s.mu.RUnlock()
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", repo.ErrNotFound, programID)
	}
	return decode(blob)
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := repo.Tail(s.order, limit)
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := decode(s.byID[id])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) IDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func decode(blob []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
