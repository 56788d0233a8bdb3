// Package repotest checks a RecordStore implementation against the store
// contract.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/repo"
)

// Record builds a well-formed record with rule-specific metadata attached.
func Record(id string) domain.Record {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := domain.ProgramMetadata{
		ProgramID: id,
		Generator: "qiskit",
		GateSet:   []string{"h", "cx"},
		Shots:     877,
		NQubits:   2,
		NOps:      3,
		OptLevel:  1,
		Backend:   "qasm_simulator",
	}
	return domain.Record{
		ProgramID: id,
		CreatedAt: created,
		Source:    src,
		Followup: domain.FollowupMetadata{
			ProgramMetadata:  src,
			Rules:            []string{"inject_null_effect"},
			RuleSeconds:      []float64{0.001},
			TransformSeconds: 0.001,
			DiffSummary:      "+1 -0",
			RuleInfo: map[string]domain.Metadata{
				"0": {"statement": "pass", "line": 12},
			},
		},
		SourceResult: domain.ExecutionResult{
			Platform:     domain.PlatformSource,
			Distribution: domain.Distribution{"00": 440, "11": 437},
			StartedAt:    created,
			FinishedAt:   created.Add(time.Second),
			Seconds:      1,
		},
		FollowupResult: domain.ExecutionResult{
			Platform:     domain.PlatformFollowup,
			Distribution: domain.Distribution{"00": 430, "11": 447},
			StartedAt:    created.Add(time.Second),
			FinishedAt:   created.Add(2 * time.Second),
			Seconds:      1,
		},
		Divergence: []domain.Verdict{{
			Detector: "chi", Test: "chi_square", Statistic: 0.23, PValue: 0.63, Alpha: 0.05,
			Decision: domain.DecisionNoDivergence,
		}},
		Timings: domain.Timings{Generation: 0.01, Transformation: 0.001, Execution: 2, Detection: 0.0001},
	}
}

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) repo.RecordStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("strips rule info", func(t *testing.T) {
		s := open(t)
		in := Record("a1")
		require.NoError(t, s.Append(ctx, in))

		got, err := s.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Nil(t, got.Followup.RuleInfo)
		assert.NotEmpty(t, got.IntegritySHA256)
		require.NoError(t, repo.VerifyIntegrity(got))

		want := in
		want.Followup.RuleInfo = nil
		want.IntegritySHA256 = got.IntegritySHA256
		assert.Equal(t, want, got)
		assert.NotNil(t, in.Followup.RuleInfo, "caller's record must not be modified")
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Append(ctx, Record("dup")))

		second := Record("dup")
		second.Timings.Execution = 99
		err := s.Append(ctx, second)
		assert.ErrorIs(t, err, repo.ErrDuplicate)

		got, err := s.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, 2.0, got.Timings.Execution)
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("rejects invalid", func(t *testing.T) {
		s := open(t)
		rec := Record("")
		rec.Source.ProgramID = ""
		assert.Error(t, s.Append(ctx, rec))

		ids, err := s.IDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("append order", func(t *testing.T) {
		s := open(t)
		want := []string{"z", "b", "m", "a", "q"}
		for _, id := range want {
			require.NoError(t, s.Append(ctx, Record(id)))
		}

		ids, err := s.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, ids)

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, len(want))
		for i, rec := range all {
			assert.Equal(t, want[i], rec.ProgramID)
		}

		last, err := s.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, "a", last[0].ProgramID)
		assert.Equal(t, "q", last[1].ProgramID)

		more, err := s.List(ctx, 50)
		require.NoError(t, err)
		assert.Len(t, more, len(want))
	})

	t.Run("concurrent append", func(t *testing.T) {
		s := open(t)
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Append(ctx, Record(fmt.Sprintf("c%02d", i)))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil && !errors.Is(err, repo.ErrDuplicate) {
				t.Fatalf("Append() err=%v", err)
			}
		}
		ids, err := s.IDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, n)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
