package repo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/repo"
	"github.com/animus-labs/qmt/internal/repo/repotest"
)

func TestNormalizeStripsRuleInfo(t *testing.T) {
	in := repotest.Record("p1")
	out, err := repo.Normalize(in)
	require.NoError(t, err)

	assert.Nil(t, out.Followup.RuleInfo)
	assert.NotNil(t, in.Followup.RuleInfo)
	assert.Equal(t, in.Followup.Rules, out.Followup.Rules)
	assert.Len(t, out.IntegritySHA256, 64)
	assert.NoError(t, repo.VerifyIntegrity(out))
}

func TestNormalizeValidates(t *testing.T) {
	cases := map[string]func(r *domain.Record){
		"missing id":      func(r *domain.Record) { r.ProgramID = "  " },
		"missing created": func(r *domain.Record) { r.CreatedAt = time.Time{} },
		"id mismatch":     func(r *domain.Record) { r.Source.ProgramID = "other" },
		"missing res_A":   func(r *domain.Record) { r.SourceResult.Distribution = nil },
		"missing res_B":   func(r *domain.Record) { r.FollowupResult.Distribution = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := repotest.Record("p1")
			mutate(&rec)
			_, err := repo.Normalize(rec)
			assert.Error(t, err)
		})
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	out, err := repo.Normalize(repotest.Record("p1"))
	require.NoError(t, err)

	out.Divergence[0].PValue = 0.001
	assert.Error(t, repo.VerifyIntegrity(out))

	out.IntegritySHA256 = ""
	assert.Error(t, repo.VerifyIntegrity(out))
}

func TestTail(t *testing.T) {
	s := []int{1, 2, 3, 4}
	assert.Equal(t, s, repo.Tail(s, 0))
	assert.Equal(t, []int{3, 4}, repo.Tail(s, 2))
	assert.Equal(t, s, repo.Tail(s, 9))
}
