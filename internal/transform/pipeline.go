package transform

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
)

const (
	// OrderDraw applies the selected rules in the order they were drawn.
	OrderDraw = "draw"
	// OrderDeclaration applies the selected rules in catalogue order.
	OrderDeclaration = "declaration"
)

var ErrNoApplicableRule = errors.New("no applicable transformation rule")

type Config struct {
	MaxTransformations int    `yaml:"max_transformations_per_program" validate:"min=1"`
	Order              string `yaml:"order" validate:"omitempty,oneof=draw declaration"`
}

// Step is one applied rule.
type Step struct {
	Rule     string
	Metadata domain.Metadata
	Duration time.Duration
}

// Run is the ordered list of rules applied to one program.
type Run struct {
	Steps    []Step
	Duration time.Duration
}

func (r Run) RuleNames() []string {
	names := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		names = append(names, s.Rule)
	}
	return names
}

func (r Run) StepSeconds() []float64 {
	out := make([]float64, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, domain.Seconds(s.Duration))
	}
	return out
}

// Info returns the per-step metadata keyed by step position.
func (r Run) Info() map[string]domain.Metadata {
	out := make(map[string]domain.Metadata, len(r.Steps))
	for i, s := range r.Steps {
		out[strconv.Itoa(i)] = s.Metadata.Clone()
	}
	return out
}

// Pipeline composes a random subset of applicable rules.
type Pipeline struct {
	rules []Rule
	max   int
	order string
	rng   *rand.Rand
	now   func() time.Time
}

func NewPipeline(rules []Rule, cfg Config, rng *rand.Rand) (*Pipeline, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one rule is required")
	}
	if cfg.MaxTransformations < 1 {
		return nil, errors.New("max_transformations_per_program must be >= 1")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	order := strings.TrimSpace(cfg.Order)
	switch order {
	case "":
		order = OrderDraw
	case OrderDraw, OrderDeclaration:
	default:
		return nil, fmt.Errorf("pipeline.order unsupported: %q", cfg.Order)
	}
	return &Pipeline{
		rules: append([]Rule(nil), rules...),
		max:   cfg.MaxTransformations,
		order: order,
		rng:   rng,
		now:   time.Now,
	}, nil
}

// Applicable returns the rules whose preconditions hold on text, in
// catalogue order.
func (p *Pipeline) Applicable(text string) []Rule {
	out := make([]Rule, 0, len(p.rules))
	for _, r := range p.rules {
		if r.Applicable(text) {
			out = append(out, r)
		}
	}
	return out
}

// Select draws k uniformly from [1, min(len(applicable), max)] and then k
// distinct rules uniformly from applicable.
func (p *Pipeline) Select(applicable []Rule) []Rule {
	if len(applicable) == 0 {
		return nil
	}
	k := 1 + p.rng.IntN(min(len(applicable), p.max))
	idx := p.rng.Perm(len(applicable))[:k]
	if p.order == OrderDeclaration {
		sort.Ints(idx)
	}
	out := make([]Rule, 0, k)
	for _, i := range idx {
		out = append(out, applicable[i])
	}
	return out
}

// Run rewrites text with a freshly selected subset of rules. Preconditions
// are evaluated once on the original text; the selected rules then see the
// text as rewritten by the rules before them. A failing rule aborts the run.
func (p *Pipeline) Run(text string) (string, Run, error) {
	start := p.now()
	selected := p.Select(p.Applicable(text))
	if len(selected) == 0 {
		return "", Run{}, ErrNoApplicableRule
	}
	out, run, err := Apply(text, selected, p.now)
	run.Duration = p.now().Sub(start)
	return out, run, err
}

// Apply threads text through rules in the given order.
func Apply(text string, rules []Rule, now func() time.Time) (string, Run, error) {
	if now == nil {
		now = time.Now
	}
	run := Run{Steps: make([]Step, 0, len(rules))}
	for _, rule := range rules {
		stepStart := now()
		next, meta, err := rule.Transformer.Apply(text, rule.Params.Clone())
		if err != nil {
			return "", run, fmt.Errorf("apply %s: %w", rule.Name, err)
		}
		if meta == nil {
			meta = domain.Metadata{}
		}
		run.Steps = append(run.Steps, Step{Rule: rule.Name, Metadata: meta, Duration: now().Sub(stepStart)})
		text = next
	}
	return text, run, nil
}
