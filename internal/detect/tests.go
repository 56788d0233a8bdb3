// Package detect compares empirical distributions, one iteration at a time
// and across the accumulated history of records.
package detect

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/animus-labs/qmt/internal/domain"
)

const (
	TestChiSquare = "chi_square"
	TestKS        = "ks"
)

var (
	ErrUnknownTest       = errors.New("unknown statistical test")
	ErrEmptyDistribution = errors.New("distribution has no samples")
)

// Test compares two distributions. A small p-value means the samples are
// unlikely to come from the same distribution.
type Test interface {
	Name() string
	Compare(a, b domain.Distribution) (statistic, pvalue float64, err error)
}

var tests = map[string]Test{
	TestChiSquare: ChiSquare{},
	TestKS:        KolmogorovSmirnov{},
}

// Lookup resolves a test by name.
func Lookup(name string) (Test, error) {
	t, ok := tests[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTest, name)
	}
	return t, nil
}

// ChiSquare is the 2xK chi-squared test of homogeneity. Outcomes observed on
// neither side do not count towards the degrees of freedom. The p-value is
// asymptotic: with two outcomes (one degree of freedom) and no continuity
// correction the false-positive rate on identical sources runs slightly
// above alpha.
type ChiSquare struct{}

func (ChiSquare) Name() string { return TestChiSquare }

func (ChiSquare) Compare(a, b domain.Distribution) (float64, float64, error) {
	na, nb := float64(a.Total()), float64(b.Total())
	if na == 0 || nb == 0 {
		return 0, 0, ErrEmptyDistribution
	}
	n := na + nb

	var chi2 float64
	cols := 0
	for _, label := range union(a, b) {
		oa, ob := float64(a[label]), float64(b[label])
		col := oa + ob
		if col == 0 {
			continue
		}
		cols++
		ea := col * na / n
		eb := col * nb / n
		chi2 += (oa-ea)*(oa-ea)/ea + (ob-eb)*(ob-eb)/eb
	}

	df := cols - 1
	if df < 1 {
		return 0, 1, nil
	}
	p := distuv.ChiSquared{K: float64(df)}.Survival(chi2)
	return chi2, clamp01(p), nil
}

// KolmogorovSmirnov is the two-sample KS test over the lexicographic order of
// outcome labels, with the asymptotic p-value.
type KolmogorovSmirnov struct{}

func (KolmogorovSmirnov) Name() string { return TestKS }

func (KolmogorovSmirnov) Compare(a, b domain.Distribution) (float64, float64, error) {
	na, nb := float64(a.Total()), float64(b.Total())
	if na == 0 || nb == 0 {
		return 0, 0, ErrEmptyDistribution
	}

	labels := union(a, b)
	x, xw := locations(labels, a)
	y, yw := locations(labels, b)
	d := stat.KolmogorovSmirnov(x, xw, y, yw)

	en := math.Sqrt(na * nb / (na + nb))
	return d, clamp01(ksSurvival((en + 0.12 + 0.11/en) * d)), nil
}

// locations maps each observed label to its rank in labels, weighted by count.
func locations(labels []string, d domain.Distribution) ([]float64, []float64) {
	x := make([]float64, 0, len(d))
	w := make([]float64, 0, len(d))
	for i, label := range labels {
		if n := d[label]; n > 0 {
			x = append(x, float64(i))
			w = append(w, float64(n))
		}
	}
	return x, w
}

// ksSurvival is Q_KS(lambda) = 2 sum_{j>=1} (-1)^(j-1) exp(-2 j^2 lambda^2).
func ksSurvival(lambda float64) float64 {
	if lambda < 0.2 {
		return 1
	}
	var sum, sign float64 = 0, 1
	for j := 1; j <= 100; j++ {
		term := sign * 2 * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) <= 1e-10*math.Abs(sum) {
			break
		}
		sign = -sign
	}
	return sum
}

func union(a, b domain.Distribution) []string {
	merged := a.Clone()
	for label, n := range b {
		merged[label] += n
	}
	return merged.Labels()
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
