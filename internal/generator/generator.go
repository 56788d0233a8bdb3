// Package generator produces source programs for the metamorphic loop.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/shots"
)

const KindQiskit = "qiskit"

var ErrEmptyGateSet = errors.New("gate set is empty")

// Generator produces one fresh source program per call.
type Generator interface {
	Generate(ctx context.Context) (domain.Program, error)
}

type Gate struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	NBits   int    `yaml:"n_bits" json:"n_bits" validate:"min=1"`
	NParams int    `yaml:"n_params" json:"n_params" validate:"min=0"`
}

// Config shapes the generated programs.
type Config struct {
	Generator            string   `yaml:"generator"`
	GateSet              []Gate   `yaml:"gate_set" validate:"required,min=1,dive"`
	GateSetDropout       *float64 `yaml:"gate_set_dropout" validate:"omitempty,gte=0,lte=1"`
	Optimizations        []string `yaml:"optimizations"`
	OptimizationsDropout *float64 `yaml:"optimizations_dropout" validate:"omitempty,gte=0,lte=1"`
	MinNQubits           int      `yaml:"min_n_qubits" validate:"min=1"`
	MaxNQubits           int      `yaml:"max_n_qubits" validate:"gtefield=MinNQubits"`
	MinNOps              int      `yaml:"min_n_ops" validate:"min=0"`
	MaxNOps              int      `yaml:"max_n_ops" validate:"gtefield=MinNOps"`
	OptimizationLevels   []int    `yaml:"optimization_levels" validate:"required,min=1,dive,min=0,max=3"`
	Backends             []string `yaml:"backends" validate:"required,min=1,dive,required"`
}

// New builds the generator named by cfg.Generator.
func New(cfg Config, sampling shots.Config, rng *rand.Rand) (Generator, error) {
	switch strings.TrimSpace(cfg.Generator) {
	case KindQiskit, "":
		return NewQiskit(cfg, sampling, rng)
	default:
		return nil, fmt.Errorf("generator unsupported: %q", cfg.Generator)
	}
}

// NewID returns a fresh globally unique program identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Qiskit emits Python programs against the Qiskit API. Every program prints
// its measured counts as one JSON object on the last line of stdout.
type Qiskit struct {
	cfg      Config
	sampling shots.Config
	rng      *rand.Rand
	now      func() time.Time
	newID    func() string
}

func NewQiskit(cfg Config, sampling shots.Config, rng *rand.Rand) (*Qiskit, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if len(cfg.GateSet) == 0 {
		return nil, ErrEmptyGateSet
	}
	if len(cfg.Backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	if len(cfg.OptimizationLevels) == 0 {
		return nil, errors.New("at least one optimization level is required")
	}
	if cfg.MinNQubits < 1 || cfg.MaxNQubits < cfg.MinNQubits {
		return nil, fmt.Errorf("invalid qubit range [%d, %d]", cfg.MinNQubits, cfg.MaxNQubits)
	}
	if cfg.MinNOps < 0 || cfg.MaxNOps < cfg.MinNOps {
		return nil, fmt.Errorf("invalid op range [%d, %d]", cfg.MinNOps, cfg.MaxNOps)
	}
	return &Qiskit{cfg: cfg, sampling: sampling, rng: rng, now: time.Now, newID: NewID}, nil
}

func (g *Qiskit) Generate(ctx context.Context) (domain.Program, error) {
	if err := ctx.Err(); err != nil {
		return domain.Program{}, err
	}
	start := g.now()

	gates := Dropout(g.rng, g.cfg.GateSet, g.cfg.GateSetDropout)
	optimizations := Dropout(g.rng, g.cfg.Optimizations, g.cfg.OptimizationsDropout)
	nQubits := g.between(g.cfg.MinNQubits, g.cfg.MaxNQubits)
	nOps := g.between(g.cfg.MinNOps, g.cfg.MaxNOps)
	optLevel := g.cfg.OptimizationLevels[g.rng.IntN(len(g.cfg.OptimizationLevels))]
	backend := g.cfg.Backends[g.rng.IntN(len(g.cfg.Backends))]

	usable := make([]Gate, 0, len(gates))
	for _, gate := range gates {
		if gate.NBits <= nQubits {
			usable = append(usable, gate)
		}
	}
	if len(usable) == 0 {
		return domain.Program{}, fmt.Errorf("%w: no gate fits %d qubits after dropout", ErrEmptyGateSet, nQubits)
	}

	count := shots.Estimate(g.sampling, shots.OutcomesForBits(nQubits))
	text := g.render(usable, optimizations, nQubits, nOps, optLevel, backend, count)

	id := g.newID()
	names := make([]string, 0, len(gates))
	for _, gate := range gates {
		names = append(names, gate.Name)
	}
	return domain.Program{
		ID:   id,
		Text: text,
		Metadata: domain.ProgramMetadata{
			ProgramID:         id,
			Generator:         KindQiskit,
			GateSet:           names,
			Optimizations:     optimizations,
			Shots:             count,
			NQubits:           nQubits,
			NOps:              nOps,
			OptLevel:          optLevel,
			Backend:           backend,
			GenerationSeconds: domain.Seconds(g.now().Sub(start)),
		},
	}, nil
}

func (g *Qiskit) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *Qiskit) render(gates []Gate, optimizations []string, nQubits, nOps, optLevel int, backend string, count int) string {
	var b strings.Builder
	b.WriteString("import json\n")
	b.WriteString("from qiskit import QuantumRegister, ClassicalRegister\n")
	b.WriteString("from qiskit import QuantumCircuit, execute, Aer\n")
	if len(optimizations) > 0 {
		b.WriteString("from qiskit.transpiler import PassManager\n")
		fmt.Fprintf(&b, "from qiskit.transpiler.passes import %s\n", strings.Join(optimizations, ", "))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "shots = %d\n\n", count)
	b.WriteString("qc = QuantumCircuit()\n\n")
	fmt.Fprintf(&b, "q = QuantumRegister(%d, 'q')\n", nQubits)
	fmt.Fprintf(&b, "c = ClassicalRegister(%d, 'c')\n\n", nQubits)
	b.WriteString("qc.add_register(q)\n")
	b.WriteString("qc.add_register(c)\n\n")

	for i := 0; i < nOps; i++ {
		gate := gates[g.rng.IntN(len(gates))]
		args := make([]string, 0, gate.NParams+gate.NBits)
		for p := 0; p < gate.NParams; p++ {
			args = append(args, fmt.Sprintf("%.6f", g.rng.Float64()*2*3.141592653589793))
		}
		for _, qubit := range g.rng.Perm(nQubits)[:gate.NBits] {
			args = append(args, fmt.Sprintf("q[%d]", qubit))
		}
		fmt.Fprintf(&b, "qc.%s(%s)\n", gate.Name, strings.Join(args, ", "))
	}
	b.WriteString("qc.measure(q, c)\n\n")

	if len(optimizations) > 0 {
		passes := make([]string, 0, len(optimizations))
		for _, name := range optimizations {
			passes = append(passes, name+"()")
		}
		fmt.Fprintf(&b, "pm = PassManager([%s])\n", strings.Join(passes, ", "))
		b.WriteString("qc = pm.run(qc)\n\n")
	}

	fmt.Fprintf(&b, "backend = Aer.get_backend('%s')\n", backend)
	fmt.Fprintf(&b, "job = execute(qc, backend=backend, shots=shots, optimization_level=%d)\n", optLevel)
	b.WriteString("RESULT = job.result().get_counts(qc)\n")
	b.WriteString("print(json.dumps(RESULT))\n")
	return b.String()
}
