package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/detect"
	"github.com/animus-labs/qmt/internal/transform"
)

const minimal = `
experiment_folder: /tmp/qmt-experiment
generation_strategy:
  generator: qiskit
  gate_set:
    - {name: h, n_bits: 1, n_params: 0}
    - {name: cx, n_bits: 2, n_params: 0}
  min_n_qubits: 2
  max_n_qubits: 4
  min_n_ops: 1
  max_n_ops: 10
  optimization_levels: [0, 1, 2, 3]
  backends: [qasm_simulator]
metamorphic_strategies:
  - name: inject_null_effect
    function: inject_null_effect
    kwargs: {statement: "pass"}
    pre_condition_functions: [always]
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/qmt-experiment", cfg.ExperimentFolder)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1, cfg.Pipeline.MaxTransformations)
	assert.Equal(t, transform.OrderDraw, cfg.Pipeline.Order)
	assert.Len(t, cfg.Detectors, 2)
	assert.Equal(t, detect.ScanConfig{Method: detect.MethodHolm, Test: detect.TestKS, Alpha: 0.05}, cfg.Scan())
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, []string{"python3"}, cfg.Execution.Command)
	assert.Zero(t, cfg.CampaignBudget())
	assert.Zero(t, cfg.IterationBudget())
	assert.Nil(t, cfg.Seed)
}

func TestParseFullDocument(t *testing.T) {
	doc := minimal + `
folder_structure:
  source: src
budget_time: 3600
budget_time_per_program_couple: 2.5
seed: 42
log_level: debug
metrics_addr: ":9090"
sample_size: {method: fixed, shots: 2048}
pipeline: {max_transformations_per_program: 3, order: declaration}
detectors:
  - {name: chi, test: chi_square, alpha: 0.01}
divergence_threshold_method: benjamini_hochberg
divergence_primary_test: chi_square
divergence_alpha_level: 0.01
divergence_window: 100
execution:
  runtime: docker
  image: qiskit:0.20
  command: [python, "-"]
  memory: 2g
store: {backend: postgres, table: qmt_campaign}
artifacts: {mirror: true, bucket: campaign, prefix: run-1}
`
	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "src", cfg.FolderStructure["source"])
	assert.Equal(t, time.Hour, cfg.CampaignBudget())
	assert.Equal(t, 2500*time.Millisecond, cfg.IterationBudget())
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, uint64(42), *cfg.Seed)
	assert.Equal(t, 2048, cfg.SampleSize.Shots)
	assert.Equal(t, 0.95, cfg.SampleSize.Confidence, "unset keys keep their defaults")
	assert.Equal(t, 3, cfg.Pipeline.MaxTransformations)
	require.Len(t, cfg.Detectors, 1)
	assert.Equal(t, "chi", cfg.Detectors[0].Name)
	assert.Equal(t, detect.ScanConfig{Method: detect.MethodBenjaminiHochberg, Test: detect.TestChiSquare, Alpha: 0.01, Window: 100}, cfg.Scan())
	assert.Equal(t, []string{"python", "-"}, cfg.Execution.Command)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.True(t, cfg.Artifacts.Mirror)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":           minimal + "budget: 3\n",
		"unknown transform":     strings.Replace(minimal, "function: inject_null_effect", "function: eval_this", 1),
		"unknown precondition":  strings.Replace(minimal, "[always]", "[sometimes]", 1),
		"unknown detector":      minimal + "detectors: [{name: x, test: t_test}]\n",
		"unknown scan method":   minimal + "divergence_threshold_method: fisher\n",
		"bad alpha":             minimal + "divergence_alpha_level: 1.5\n",
		"bad pipeline max":      minimal + "pipeline: {max_transformations_per_program: 0}\n",
		"bad order":             minimal + "pipeline: {max_transformations_per_program: 1, order: shuffled}\n",
		"bad dropout":           strings.Replace(minimal, "  generator: qiskit\n", "  generator: qiskit\n  gate_set_dropout: 1.5\n", 1),
		"no strategies":         strings.Split(minimal, "metamorphic_strategies:")[0],
		"bad log level":         minimal + "log_level: chatty\n",
		"bad store":             minimal + "store: {backend: sqlite}\n",
		"docker without image":  minimal + "execution: {runtime: docker}\n",
		"mirror without bucket": minimal + "artifacts: {mirror: true}\n",
		"negative budget":       minimal + "budget_time: -1\n",
		"bad sample size":       minimal + "sample_size: {method: l1_bound, epsilon: 0}\n",
		"empty":                 "",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qmt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "inject_null_effect", cfg.Strategies[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}
