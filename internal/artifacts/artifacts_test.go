package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/domain"
)

type memMirror struct {
	mu   sync.Mutex
	objs map[string][]byte
	err  error
}

func (m *memMirror) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memMirror) Check(context.Context) error { return nil }

func setup(t *testing.T, folders map[string]string) Layout {
	t.Helper()
	l, err := NewLayout(t.TempDir(), folders)
	require.NoError(t, err)
	require.NoError(t, l.Setup())
	return l
}

func TestLayoutDefaults(t *testing.T) {
	l := setup(t, nil)
	for _, rel := range []string{"programs/source", "programs/followup", "programs/metadata", "programs/metadata_exec", "scans"} {
		info, err := os.Stat(filepath.Join(l.Root, rel))
		require.NoError(t, err, rel)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(l.Root, "programs/source/abc.py"), l.Path(KindSource, "abc", "py"))
}

func TestLayoutOverridesAndValidation(t *testing.T) {
	l := setup(t, map[string]string{KindSource: "src"})
	assert.Equal(t, filepath.Join(l.Root, "src"), l.Dir(KindSource))
	assert.Equal(t, filepath.Join(l.Root, "programs/followup"), l.Dir(KindFollowup))

	_, err := NewLayout("", nil)
	assert.Error(t, err)
	_, err = NewLayout(t.TempDir(), map[string]string{"bogus": "x"})
	assert.Error(t, err)
	_, err = NewLayout(t.TempDir(), map[string]string{KindSource: "../escape"})
	assert.Error(t, err)
	_, err = NewLayout(t.TempDir(), map[string]string{KindSource: "/abs"})
	assert.Error(t, err)
}

func TestWriterFiles(t *testing.T) {
	ctx := context.Background()
	mirror := &memMirror{}
	w := NewWriter(setup(t, nil), mirror, "/campaign-1/", nil)

	p, err := w.WriteProgram(ctx, KindSource, domain.Program{ID: "abc", Text: "print(1)\n"})
	require.NoError(t, err)
	body, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", string(body))

	rec := domain.Record{
		ProgramID: "abc",
		Followup: domain.FollowupMetadata{
			RuleInfo: map[string]domain.Metadata{"0": {"statement": "pass"}},
		},
		SourceResult: domain.ExecutionResult{Distribution: domain.Distribution{"0": 1}},
		Exceptions:   domain.Exceptions{Followup: "boom"},
	}
	mp, err := w.WriteMetadata(ctx, rec)
	require.NoError(t, err)
	raw, err := os.ReadFile(mp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "metamorphic_info", "metadata files keep rule-specific details")

	ep, err := w.WriteExecMetadata(ctx, rec)
	require.NoError(t, err)
	var exec ExecMetadata
	raw, err = os.ReadFile(ep)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &exec))
	assert.Equal(t, "boom", exec.Exceptions.Followup)
	assert.Equal(t, domain.Distribution{"0": 1}, exec.ResA.Distribution)

	_, err = w.WriteScanReport(ctx, "abc", map[string]any{"tested": 1})
	require.NoError(t, err)

	assert.Contains(t, mirror.objs, "campaign-1/programs/source/abc.py")
	assert.Contains(t, mirror.objs, "campaign-1/programs/metadata/abc.json")
	assert.Contains(t, mirror.objs, "campaign-1/programs/metadata_exec/abc.json")
	assert.Contains(t, mirror.objs, "campaign-1/scans/abc.json")
}

func TestWriterMirrorFailureIsNotFatal(t *testing.T) {
	w := NewWriter(setup(t, nil), &memMirror{err: errors.New("minio down")}, "", nil)
	_, err := w.WriteProgram(context.Background(), KindFollowup, domain.Program{ID: "x", Text: "pass\n"})
	assert.NoError(t, err)
}

func TestWriterRejectsBadInput(t *testing.T) {
	w := NewWriter(setup(t, nil), nil, "", nil)
	_, err := w.WriteProgram(context.Background(), KindMetadata, domain.Program{ID: "x"})
	assert.Error(t, err)
	_, err = w.WriteProgram(context.Background(), KindSource, domain.Program{ID: "../x"})
	assert.Error(t, err)
}
