package detect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/qmt/internal/domain"
)

const DefaultAlpha = 0.05

// Detector is one configured per-pair comparison.
type Detector struct {
	Name  string  `yaml:"name" validate:"required"`
	Test  string  `yaml:"test" validate:"required"`
	Alpha float64 `yaml:"alpha" validate:"gte=0,lt=1"`
}

type boundDetector struct {
	Detector
	test Test
}

// Suite runs every configured detector over one pair of distributions.
type Suite struct {
	detectors []boundDetector
}

// NewSuite resolves every detector's test, failing on the first unknown name.
func NewSuite(detectors []Detector) (*Suite, error) {
	s := &Suite{}
	seen := make(map[string]struct{}, len(detectors))
	for i, d := range detectors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = d.Test
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("detectors[%d]: duplicate detector %q", i, name)
		}
		seen[name] = struct{}{}

		t, err := Lookup(d.Test)
		if err != nil {
			return nil, fmt.Errorf("detectors[%d]: %w", i, err)
		}
		alpha := d.Alpha
		if alpha <= 0 {
			alpha = DefaultAlpha
		}
		s.detectors = append(s.detectors, boundDetector{
			Detector: Detector{Name: name, Test: d.Test, Alpha: alpha},
			test:     t,
		})
	}
	return s, nil
}

func (s *Suite) Len() int {
	return len(s.detectors)
}

// Check never fails: a side without samples or a failing test yields an
// inconclusive verdict.
func (s *Suite) Check(a, b domain.Distribution) []domain.Verdict {
	out := make([]domain.Verdict, 0, len(s.detectors))
	for _, d := range s.detectors {
		out = append(out, Evaluate(d.Name, d.test, d.Alpha, a, b))
	}
	return out
}

// Evaluate runs a single test and turns its p-value into a decision.
func Evaluate(detector string, t Test, alpha float64, a, b domain.Distribution) domain.Verdict {
	v := domain.Verdict{
		Detector: detector,
		Test:     t.Name(),
		Alpha:    alpha,
		Decision: domain.DecisionInconclusive,
	}
	statistic, p, err := compare(t, a, b)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Statistic = statistic
	v.PValue = p
	if p < alpha {
		v.Decision = domain.DecisionDivergence
	} else {
		v.Decision = domain.DecisionNoDivergence
	}
	return v
}

func compare(t Test, a, b domain.Distribution) (statistic, p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", t.Name(), r)
		}
	}()
	if a.Total() == 0 || b.Total() == 0 {
		return 0, 0, ErrEmptyDistribution
	}
	statistic, p, err = t.Compare(a, b)
	if err != nil {
		return 0, 0, err
	}
	if p != p || statistic != statistic {
		return 0, 0, errors.New(t.Name() + ": undefined statistic")
	}
	return statistic, p, nil
}

// Skip returns an inconclusive verdict for every detector, e.g. when one
// side of the pair crashed and only the fallback distribution exists.
func (s *Suite) Skip(reason string) []domain.Verdict {
	out := make([]domain.Verdict, 0, len(s.detectors))
	for _, d := range s.detectors {
		out = append(out, domain.Verdict{
			Detector: d.Name,
			Test:     d.Test,
			Alpha:    d.Alpha,
			Decision: domain.DecisionInconclusive,
			Error:    reason,
		})
	}
	return out
}
