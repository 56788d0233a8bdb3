// Package transform holds the metamorphic rules and the pipeline that
// composes a random subset of them into one rewrite of a program.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/qmt/internal/domain"
)

var (
	ErrUnknownTransform    = errors.New("unknown transform")
	ErrUnknownPrecondition = errors.New("unknown precondition")
)

// Transformer rewrites program text. Implementations must be pure: the same
// text and params always give the same result.
type Transformer interface {
	Apply(text string, params domain.Metadata) (string, domain.Metadata, error)
}

type TransformerFunc func(text string, params domain.Metadata) (string, domain.Metadata, error)

func (f TransformerFunc) Apply(text string, params domain.Metadata) (string, domain.Metadata, error) {
	return f(text, params)
}

// Predicate gates whether a rule may be applied to a program text.
type Predicate func(text string) bool

type Precondition struct {
	Name  string
	Check Predicate
}

// Rule is a named, parameterized transformation with its preconditions.
type Rule struct {
	Name          string
	Transformer   Transformer
	Params        domain.Metadata
	Preconditions []Precondition
}

// Applicable reports whether every precondition holds on text.
func (r Rule) Applicable(text string) bool {
	for _, pre := range r.Preconditions {
		if !pre.Check(text) {
			return false
		}
	}
	return true
}

// Strategy is one catalogue entry of the configuration.
type Strategy struct {
	Name          string         `yaml:"name" validate:"required"`
	Function      string         `yaml:"function" validate:"required"`
	Kwargs        map[string]any `yaml:"kwargs"`
	Preconditions []string       `yaml:"pre_condition_functions"`
}

// Registry resolves transform and precondition names to implementations.
type Registry struct {
	mu            sync.RWMutex
	transforms    map[string]Transformer
	preconditions map[string]Predicate
}

// NewRegistry returns a registry populated with the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{
		transforms:    map[string]Transformer{},
		preconditions: map[string]Predicate{},
	}
	for name, t := range builtinTransforms() {
		r.transforms[name] = t
	}
	for name, p := range builtinPreconditions() {
		r.preconditions[name] = p
	}
	return r
}

func (r *Registry) RegisterTransform(name string, t Transformer) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("transform name is required")
	}
	if t == nil {
		return fmt.Errorf("transform %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
	return nil
}

func (r *Registry) RegisterPrecondition(name string, p Predicate) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("precondition name is required")
	}
	if p == nil {
		return fmt.Errorf("precondition %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preconditions[name] = p
	return nil
}

func (r *Registry) Transform(name string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
	return t, nil
}

func (r *Registry) Precondition(name string) (Predicate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preconditions[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrecondition, name)
	}
	return p, nil
}

// Names lists registered transform names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves a configuration catalogue into rules, in catalogue order.
// The first unknown name aborts the build.
func (r *Registry) Build(strategies []Strategy) ([]Rule, error) {
	rules := make([]Rule, 0, len(strategies))
	seen := make(map[string]struct{}, len(strategies))
	for i, s := range strategies {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("metamorphic_strategies[%d].name is required", i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("metamorphic_strategies[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[name] = struct{}{}

		t, err := r.Transform(s.Function)
		if err != nil {
			return nil, fmt.Errorf("metamorphic_strategies[%d]: %w (registered: %s)", i, err, strings.Join(r.Names(), ", "))
		}
		pres := make([]Precondition, 0, len(s.Preconditions))
		for _, preName := range s.Preconditions {
			p, err := r.Precondition(preName)
			if err != nil {
				return nil, fmt.Errorf("metamorphic_strategies[%d]: %w", i, err)
			}
			pres = append(pres, Precondition{Name: strings.TrimSpace(preName), Check: p})
		}
		rules = append(rules, Rule{
			Name:          name,
			Transformer:   t,
			Params:        domain.Metadata(s.Kwargs).Clone(),
			Preconditions: pres,
		})
	}
	return rules, nil
}
