package transform

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/qmt/internal/domain"
)

const program = `import json
from qiskit import QuantumCircuit, execute, Aer

qc = QuantumCircuit()
qc.h(q[0])
qc.cx(q[0], q[1])
qc.measure(q, c)

backend = Aer.get_backend('qasm_simulator')
job = execute(qc, backend=backend, shots=shots, optimization_level=1)
RESULT = job.result().get_counts(qc)
print(json.dumps(RESULT))
`

func never(string) bool { return false }

func TestRuleApplicableIsConjunction(t *testing.T) {
	always := func(string) bool { return true }
	assert.True(t, Rule{}.Applicable(program))
	assert.True(t, Rule{Preconditions: []Precondition{{Check: always}, {Check: always}}}.Applicable(program))
	assert.False(t, Rule{Preconditions: []Precondition{{Check: always}, {Check: never}}}.Applicable(program))
}

func TestRegistryBuildFailsFastOnUnknownNames(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build([]Strategy{{Name: "a", Function: "does_not_exist"}})
	assert.ErrorIs(t, err, ErrUnknownTransform)
	assert.Contains(t, err.Error(), TransformInjectNullEffect)

	_, err = reg.Build([]Strategy{{Name: "a", Function: TransformInjectNullEffect, Preconditions: []string{"nope"}}})
	assert.ErrorIs(t, err, ErrUnknownPrecondition)

	_, err = reg.Build([]Strategy{
		{Name: "a", Function: TransformInjectNullEffect},
		{Name: "a", Function: TransformChangeBackend},
	})
	assert.Error(t, err)
}

func TestRegistryBuildKeepsCatalogueOrder(t *testing.T) {
	reg := NewRegistry()
	rules, err := reg.Build([]Strategy{
		{Name: "backend", Function: TransformChangeBackend, Kwargs: map[string]any{"backends": []any{"qasm_simulator", "aer_simulator"}}, Preconditions: []string{PreconditionHasBackend}},
		{Name: "null", Function: TransformInjectNullEffect, Preconditions: []string{PreconditionAlways}},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "backend", rules[0].Name)
	assert.Equal(t, PreconditionHasBackend, rules[0].Preconditions[0].Name)
	assert.Equal(t, "null", rules[1].Name)
}

func TestRegistryCustomTransform(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTransform("upper", TransformerFunc(func(text string, _ domain.Metadata) (string, domain.Metadata, error) {
		return strings.ToUpper(text), nil, nil
	})))
	require.NoError(t, reg.RegisterPrecondition("never", never))
	assert.Contains(t, reg.Names(), "upper")

	rules, err := reg.Build([]Strategy{{Name: "u", Function: "upper", Preconditions: []string{"never"}}})
	require.NoError(t, err)
	assert.False(t, rules[0].Applicable(program))
}

func countingRules(n int) []Rule {
	rules := make([]Rule, 0, n)
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		rules = append(rules, Rule{
			Name: name,
			Transformer: TransformerFunc(func(text string, _ domain.Metadata) (string, domain.Metadata, error) {
				return text + name, domain.Metadata{"rule": name}, nil
			}),
		})
	}
	return rules
}

func TestPipelineRunLengthBounds(t *testing.T) {
	for _, max := range []int{1, 2, 3, 10} {
		rules := countingRules(5)
		rules[4].Preconditions = []Precondition{{Name: "never", Check: never}}
		p, err := NewPipeline(rules, Config{MaxTransformations: max}, rand.New(rand.NewPCG(uint64(max), 9)))
		require.NoError(t, err)

		for i := 0; i < 200; i++ {
			out, run, err := p.Run("")
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(run.Steps), 1)
			require.LessOrEqual(t, len(run.Steps), min(4, max))

			seen := map[string]bool{}
			for _, name := range run.RuleNames() {
				require.NotEqual(t, "e", name, "rule with false precondition selected")
				require.False(t, seen[name], "rule %s selected twice", name)
				seen[name] = true
			}
			assert.Equal(t, strings.Join(run.RuleNames(), ""), out)
		}
	}
}

func TestPipelineSelectCoversAllLengths(t *testing.T) {
	p, err := NewPipeline(countingRules(3), Config{MaxTransformations: 3}, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	lengths := map[int]int{}
	for i := 0; i < 600; i++ {
		lengths[len(p.Select(p.Applicable("")))]++
	}
	assert.Len(t, lengths, 3)
}

func TestPipelinePreconditionsUsePristineSource(t *testing.T) {
	// "b" is only applicable to the original text; once "a" has run it
	// would no longer be, but it still applies because selection happened
	// up front.
	rules := []Rule{
		{Name: "a", Transformer: TransformerFunc(func(text string, _ domain.Metadata) (string, domain.Metadata, error) {
			return "rewritten", nil, nil
		})},
		{Name: "b", Transformer: TransformerFunc(func(text string, _ domain.Metadata) (string, domain.Metadata, error) {
			return text + "+b", nil, nil
		}), Preconditions: []Precondition{{Name: "pristine", Check: func(text string) bool { return text == "pristine" }}}},
	}
	p, err := NewPipeline(rules, Config{MaxTransformations: 2, Order: OrderDeclaration}, rand.New(rand.NewPCG(1, 3)))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		out, run, err := p.Run("pristine")
		require.NoError(t, err)
		if len(run.Steps) == 2 {
			assert.Equal(t, "rewritten+b", out)
			return
		}
	}
	t.Fatal("never drew both rules")
}

func TestPipelineDeclarationOrder(t *testing.T) {
	p, err := NewPipeline(countingRules(6), Config{MaxTransformations: 6, Order: OrderDeclaration}, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		out, _, err := p.Run("")
		require.NoError(t, err)
		sorted := []rune(out)
		for j := 1; j < len(sorted); j++ {
			require.Less(t, sorted[j-1], sorted[j])
		}
	}
}

func TestPipelineNoApplicableRule(t *testing.T) {
	rules := countingRules(2)
	for i := range rules {
		rules[i].Preconditions = []Precondition{{Check: never}}
	}
	p, err := NewPipeline(rules, Config{MaxTransformations: 2}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	_, _, err = p.Run(program)
	assert.ErrorIs(t, err, ErrNoApplicableRule)
}

func TestPipelineTransformErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	rules := []Rule{{Name: "bad", Transformer: TransformerFunc(func(string, domain.Metadata) (string, domain.Metadata, error) {
		return "", nil, boom
	})}}
	p, err := NewPipeline(rules, Config{MaxTransformations: 1}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	_, _, err = p.Run(program)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "apply bad")
}

func TestNewPipelineValidation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	_, err := NewPipeline(nil, Config{MaxTransformations: 1}, rng)
	assert.Error(t, err)
	_, err = NewPipeline(countingRules(1), Config{}, rng)
	assert.Error(t, err)
	_, err = NewPipeline(countingRules(1), Config{MaxTransformations: 1, Order: "shuffled"}, rng)
	assert.Error(t, err)
}

func TestInjectNullEffectAppends(t *testing.T) {
	out, meta, err := injectNullEffect(program, domain.Metadata{"statement": "_ = None"})
	require.NoError(t, err)
	added, removed := LineDelta(program, out)
	assert.Equal(t, []string{"_ = None"}, added)
	assert.Empty(t, removed)
	assert.True(t, strings.HasSuffix(out, "_ = None\n"))
	assert.Equal(t, "_ = None", meta["statement"])
}

func TestInjectNullEffectAfterAnchor(t *testing.T) {
	out, meta, err := injectNullEffect(program, domain.Metadata{"after": `^qc\.cx`})
	require.NoError(t, err)
	assert.Contains(t, out, "qc.cx(q[0], q[1])\npass\nqc.measure(q, c)")
	assert.Equal(t, 6, meta["line"])
}

func TestChangeBackend(t *testing.T) {
	out, meta, err := changeBackend(program, domain.Metadata{"backends": []any{"qasm_simulator", "aer_simulator"}})
	require.NoError(t, err)
	assert.Contains(t, out, "get_backend('aer_simulator')")
	assert.Equal(t, domain.Metadata{"from": "qasm_simulator", "to": "aer_simulator"}, meta)

	_, _, err = changeBackend(program, domain.Metadata{"backends": []any{"qasm_simulator"}})
	assert.Error(t, err)
}

func TestChangeOptimizationLevel(t *testing.T) {
	out, meta, err := changeOptimizationLevel(program, domain.Metadata{"levels": []any{1, 3}})
	require.NoError(t, err)
	assert.Contains(t, out, "optimization_level=3")
	assert.Equal(t, 1, meta["from"])
	assert.Equal(t, 3, meta["to"])
}

func TestAddIdentityPair(t *testing.T) {
	out, _, err := addIdentityPair(program, domain.Metadata{"gate": "h", "qubit": 1})
	require.NoError(t, err)
	added, removed := LineDelta(program, out)
	assert.Equal(t, []string{"qc.h(q[1])", "qc.h(q[1])"}, added)
	assert.Empty(t, removed)
	assert.Less(t, strings.Index(out, "qc.h(q[1])"), strings.Index(out, "qc.measure("))
}

func TestBuiltinPreconditions(t *testing.T) {
	pre := builtinPreconditions()
	for _, name := range []string{PreconditionAlways, PreconditionHasMeasurement, PreconditionHasBackend, PreconditionHasOptimizationLevel, PreconditionHasGateCalls} {
		assert.True(t, pre[name](program), name)
	}
	assert.False(t, pre[PreconditionHasBackend]("print(1)\n"))
	assert.False(t, pre[PreconditionHasMeasurement]("print(1)\n"))
}

func TestDiffSummary(t *testing.T) {
	assert.Equal(t, "+0 -0", DiffSummary(program, program))
	out, _, err := injectNullEffect(program, nil)
	require.NoError(t, err)
	assert.Equal(t, "+1 -0", DiffSummary(program, out))
	assert.Equal(t, "+pass\n", DiffText(program, out))
}
