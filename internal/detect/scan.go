package detect

import (
	"fmt"
	"sort"

	"github.com/animus-labs/qmt/internal/domain"
)

const (
	MethodNone              = "none"
	MethodBonferroni        = "bonferroni"
	MethodHolm              = "holm"
	MethodBenjaminiHochberg = "benjamini_hochberg"
)

// ScanConfig selects how the history of records is re-examined. Window is
// the number of most recent records considered; zero means all of them.
type ScanConfig struct {
	Method string
	Test   string
	Alpha  float64
	Window int
}

// Flag is a record whose corrected p-value fell below alpha.
type Flag struct {
	ProgramID string  `json:"program_id"`
	PValue    float64 `json:"p_value"`
	AdjustedP float64 `json:"adjusted_p"`
}

type ScanReport struct {
	Method   string  `json:"method"`
	Test     string  `json:"test"`
	Alpha    float64 `json:"alpha"`
	Window   int     `json:"window"`
	Examined int     `json:"examined"`
	Tested   int     `json:"tested"`
	Flagged  []Flag  `json:"flagged"`
}

// Scanner applies the primary test to the recent history and corrects the
// resulting p-values for multiple comparisons.
type Scanner struct {
	cfg  ScanConfig
	test Test
}

func NewScanner(cfg ScanConfig) (*Scanner, error) {
	switch cfg.Method {
	case "":
		cfg.Method = MethodNone
	case MethodNone, MethodBonferroni, MethodHolm, MethodBenjaminiHochberg:
	default:
		return nil, fmt.Errorf("unknown divergence threshold method %q", cfg.Method)
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		return nil, fmt.Errorf("divergence alpha level must be in (0,1), got %v", cfg.Alpha)
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("divergence window must be >= 0, got %d", cfg.Window)
	}
	t, err := Lookup(cfg.Test)
	if err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg, test: t}, nil
}

func (s *Scanner) Config() ScanConfig {
	return s.cfg
}

// Scan expects records in append order. The stored verdict of the primary
// test is reused when conclusive; otherwise the test is rerun on the stored
// distributions. Records where neither works are skipped.
func (s *Scanner) Scan(records []domain.Record) ScanReport {
	if s.cfg.Window > 0 && len(records) > s.cfg.Window {
		records = records[len(records)-s.cfg.Window:]
	}
	report := ScanReport{
		Method:   s.cfg.Method,
		Test:     s.cfg.Test,
		Alpha:    s.cfg.Alpha,
		Window:   s.cfg.Window,
		Examined: len(records),
		Flagged:  []Flag{},
	}

	ids := make([]string, 0, len(records))
	pvalues := make([]float64, 0, len(records))
	for _, rec := range records {
		p, ok := s.pvalue(rec)
		if !ok {
			continue
		}
		ids = append(ids, rec.ProgramID)
		pvalues = append(pvalues, p)
	}
	report.Tested = len(pvalues)

	adjusted := Adjust(s.cfg.Method, pvalues)
	for i, adj := range adjusted {
		if adj < s.cfg.Alpha {
			report.Flagged = append(report.Flagged, Flag{ProgramID: ids[i], PValue: pvalues[i], AdjustedP: adj})
		}
	}
	return report
}

func (s *Scanner) pvalue(rec domain.Record) (float64, bool) {
	if v, ok := rec.Verdict(s.cfg.Test); ok && v.Decision != domain.DecisionInconclusive {
		return v.PValue, true
	}
	if rec.SourceResult.Crashed || rec.FollowupResult.Crashed {
		return 0, false
	}
	v := Evaluate(s.cfg.Test, s.test, s.cfg.Alpha, rec.SourceResult.Distribution, rec.FollowupResult.Distribution)
	if v.Decision == domain.DecisionInconclusive {
		return 0, false
	}
	return v.PValue, true
}

// Adjust returns p-values corrected for multiple comparisons, in input order.
func Adjust(method string, pvalues []float64) []float64 {
	m := len(pvalues)
	out := make([]float64, m)
	if m == 0 {
		return out
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return pvalues[order[i]] < pvalues[order[j]] })

	switch method {
	case MethodBonferroni:
		for i, p := range pvalues {
			out[i] = clamp01(p * float64(m))
		}
	case MethodHolm:
		running := 0.0
		for rank, idx := range order {
			adj := clamp01(float64(m-rank) * pvalues[idx])
			if adj < running {
				adj = running
			}
			running = adj
			out[idx] = adj
		}
	case MethodBenjaminiHochberg:
		running := 1.0
		for rank := m - 1; rank >= 0; rank-- {
			idx := order[rank]
			adj := clamp01(pvalues[idx] * float64(m) / float64(rank+1))
			if adj > running {
				adj = running
			}
			running = adj
			out[idx] = adj
		}
	default:
		copy(out, pvalues)
	}
	return out
}
