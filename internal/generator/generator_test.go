package generator

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/shots"
)

func ptr(f float64) *float64 { return &f }

func TestDropoutSizeAndMembership(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for length := 0; length <= 12; length++ {
		items := make([]int, length)
		for i := range items {
			items[i] = i * 10
		}
		for _, d := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.99, 1} {
			got := Dropout(rng, items, ptr(d))
			require.Len(t, got, int(float64(length)*d), "L=%d d=%v", length, d)

			seen := map[int]bool{}
			for _, v := range got {
				assert.Contains(t, items, v)
				assert.False(t, seen[v], "duplicate %d", v)
				seen[v] = true
			}
		}
	}
}

func TestDropoutNilKeepsAll(t *testing.T) {
	items := []string{"h", "x", "cx"}
	got := Dropout(rand.New(rand.NewPCG(1, 1)), items, nil)
	assert.Equal(t, items, got)
	got[0] = "z"
	assert.Equal(t, "h", items[0])
}

func testConfig() Config {
	return Config{
		Generator: KindQiskit,
		GateSet: []Gate{
			{Name: "h", NBits: 1},
			{Name: "x", NBits: 1},
			{Name: "rx", NBits: 1, NParams: 1},
			{Name: "cx", NBits: 2},
		},
		Optimizations:      []string{"CXCancellation", "Optimize1qGates"},
		MinNQubits:         2,
		MaxNQubits:         4,
		MinNOps:            3,
		MaxNOps:            8,
		OptimizationLevels: []int{0, 1, 2, 3},
		Backends:           []string{"qasm_simulator", "statevector_simulator"},
	}
}

func TestQiskitGenerate(t *testing.T) {
	g, err := NewQiskit(testConfig(), shots.Config{Method: shots.MethodFixed, Shots: 512}, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	p, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Len(t, p.ID, 32)
	assert.Equal(t, p.ID, p.Metadata.ProgramID)
	assert.Equal(t, 512, p.Metadata.Shots)
	assert.GreaterOrEqual(t, p.Metadata.NQubits, 2)
	assert.LessOrEqual(t, p.Metadata.NQubits, 4)
	assert.Contains(t, p.Text, "shots = 512")
	assert.Contains(t, p.Text, "Aer.get_backend('"+p.Metadata.Backend+"')")
	assert.Contains(t, p.Text, "qc.measure(q, c)")
	assert.True(t, strings.HasSuffix(p.Text, "print(json.dumps(RESULT))\n"))

	ops := 0
	for _, line := range strings.Split(p.Text, "\n") {
		if strings.HasPrefix(line, "qc.") && !strings.HasPrefix(line, "qc.measure") && !strings.HasPrefix(line, "qc.add_register") {
			ops++
		}
	}
	assert.Equal(t, p.Metadata.NOps, ops)
}

func TestQiskitUniqueIDs(t *testing.T) {
	g, err := NewQiskit(testConfig(), shots.DefaultConfig(), rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p, err := g.Generate(context.Background())
		require.NoError(t, err)
		require.False(t, seen[p.ID])
		seen[p.ID] = true
	}
}

func TestQiskitEmptyGateSetAfterDropout(t *testing.T) {
	cfg := testConfig()
	cfg.GateSetDropout = ptr(0)
	g, err := NewQiskit(cfg, shots.DefaultConfig(), rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	_, err = g.Generate(context.Background())
	assert.ErrorIs(t, err, ErrEmptyGateSet)
}

func TestNewUnknownGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.Generator = "cirq"
	_, err := New(cfg, shots.DefaultConfig(), rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}
