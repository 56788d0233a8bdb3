// Package repo is the append-only store of iteration records.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// RecordStore keeps records keyed by program id in append order. Appending
// an id that already exists fails with ErrDuplicate and leaves the stored
// record untouched.
type RecordStore interface {
	Append(ctx context.Context, rec domain.Record) error
	Get(ctx context.Context, programID string) (domain.Record, error)
	// List returns the last limit records in append order, or all of them
	// when limit <= 0.
	List(ctx context.Context, limit int) ([]domain.Record, error)
	IDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Normalize brings a record to the stored schema: rule-specific metadata is
// dropped, required fields are checked and the integrity digest is stamped.
func Normalize(rec domain.Record) (domain.Record, error) {
	rec.Followup.RuleInfo = nil
	rec.ProgramID = strings.TrimSpace(rec.ProgramID)
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	if rec.Divergence == nil {
		rec.Divergence = []domain.Verdict{}
	}

	if err := Validate(rec); err != nil {
		return domain.Record{}, err
	}

	sum, err := ComputeIntegritySHA256(rec)
	if err != nil {
		return domain.Record{}, err
	}
	rec.IntegritySHA256 = sum
	return rec, nil
}

func Validate(rec domain.Record) error {
	if rec.ProgramID == "" {
		return errors.New("program_id is required")
	}
	if rec.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	if rec.Source.ProgramID != "" && rec.Source.ProgramID != rec.ProgramID {
		return fmt.Errorf("source program_id %q does not match record %q", rec.Source.ProgramID, rec.ProgramID)
	}
	if len(rec.SourceResult.Distribution) == 0 {
		return errors.New("res_A distribution is required")
	}
	if len(rec.FollowupResult.Distribution) == 0 {
		return errors.New("res_B distribution is required")
	}
	return nil
}

// ComputeIntegritySHA256 digests the record without its own digest field.
func ComputeIntegritySHA256(rec domain.Record) (string, error) {
	rec.IntegritySHA256 = ""
	blob, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity reports whether a stored record still matches its digest.
func VerifyIntegrity(rec domain.Record) error {
	if rec.IntegritySHA256 == "" {
		return errors.New("integrity_sha256 is missing")
	}
	sum, err := ComputeIntegritySHA256(rec)
	if err != nil {
		return err
	}
	if sum != rec.IntegritySHA256 {
		return fmt.Errorf("integrity mismatch for %s", rec.ProgramID)
	}
	return nil
}

// Tail returns the last limit elements of s, or all of s when limit <= 0.
func Tail[T any](s []T, limit int) []T {
	if limit <= 0 || limit >= len(s) {
		return s
	}
	return s[len(s)-limit:]
}
