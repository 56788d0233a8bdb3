// Package shots estimates how many repetitions a probabilistic program needs
// so that its empirical distribution resolves to the configured precision.
package shots

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MethodFixed   = "fixed"
	MethodL1Bound = "l1_bound"
)

// Config is the statistical configuration of the estimator.
type Config struct {
	Method     string  `yaml:"method" json:"method"`
	Shots      int     `yaml:"shots" json:"shots"`
	Epsilon    float64 `yaml:"epsilon" json:"epsilon"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	MinShots   int     `yaml:"min_shots" json:"min_shots"`
	MaxShots   int     `yaml:"max_shots" json:"max_shots"`
}

func DefaultConfig() Config {
	return Config{
		Method:     MethodL1Bound,
		Shots:      1024,
		Epsilon:    0.1,
		Confidence: 0.95,
		MinShots:   100,
		MaxShots:   1 << 20,
	}
}

func (c Config) Validate() error {
	switch strings.TrimSpace(c.Method) {
	case MethodFixed:
		if c.Shots < 1 {
			return errors.New("sample_size.shots must be >= 1")
		}
	case MethodL1Bound, "":
		if c.Epsilon <= 0 || c.Epsilon >= 2 {
			return errors.New("sample_size.epsilon must be in (0, 2)")
		}
		if c.Confidence <= 0 || c.Confidence >= 1 {
			return errors.New("sample_size.confidence must be in (0, 1)")
		}
	default:
		return fmt.Errorf("sample_size.method unsupported: %q", c.Method)
	}
	if c.MinShots < 0 || c.MaxShots < 0 {
		return errors.New("sample_size.min_shots and max_shots must be >= 0")
	}
	if c.MaxShots > 0 && c.MinShots > c.MaxShots {
		return errors.New("sample_size.min_shots must be <= max_shots")
	}
	return nil
}

// Estimate returns the repetition count for a program with the given number
// of distinguishable outcomes. The result is always >= 1 and never decreases
// as outcomes grows.
//
// The l1_bound method inverts the L1 deviation inequality for empirical
// distributions, P(|p̂-p|₁ >= ε) <= 2^k e^(-Nε²/2), at failure probability
// 1-confidence.
func Estimate(cfg Config, outcomes int) int {
	if outcomes < 1 {
		outcomes = 1
	}
	var n float64
	switch cfg.Method {
	case MethodFixed:
		n = float64(cfg.Shots)
	default:
		delta := 1 - cfg.Confidence
		if delta <= 0 || delta >= 1 || cfg.Epsilon <= 0 {
			def := DefaultConfig()
			delta = 1 - def.Confidence
			cfg.Epsilon = def.Epsilon
		}
		k := float64(outcomes)
		n = math.Ceil(2 * (k*math.Ln2 + math.Log(1/delta)) / (cfg.Epsilon * cfg.Epsilon))
	}
	return clamp(n, cfg.MinShots, cfg.MaxShots)
}

func clamp(n float64, lo, hi int) int {
	if lo > 0 && n < float64(lo) {
		n = float64(lo)
	}
	if hi > 0 && n > float64(hi) {
		n = float64(hi)
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}

// OutcomesForBits is the number of outcomes n measured bits can produce,
// saturating instead of overflowing.
func OutcomesForBits(bits int) int {
	if bits <= 0 {
		return 1
	}
	if bits >= 30 {
		return 1 << 30
	}
	return 1 << bits
}
