package domain

import "time"

type Decision string

const (
	DecisionNoDivergence Decision = "no_divergence"
	DecisionDivergence   Decision = "divergence"
	DecisionInconclusive Decision = "inconclusive"
)

// Verdict is the outcome of one statistical comparison.
type Verdict struct {
	Detector  string   `json:"detector"`
	Test      string   `json:"test"`
	Statistic float64  `json:"statistic"`
	PValue    float64  `json:"p_value"`
	Alpha     float64  `json:"alpha"`
	Decision  Decision `json:"decision"`
	Error     string   `json:"error,omitempty"`
}

// Timings are wall-clock seconds spent in each phase of an iteration.
type Timings struct {
	Generation     float64 `json:"time_generation"`
	Transformation float64 `json:"time_metamorph"`
	Execution      float64 `json:"time_exec"`
	Detection      float64 `json:"time_detection"`
}

// Record is the single persisted unit of an iteration.
type Record struct {
	ProgramID       string           `json:"program_id"`
	CreatedAt       time.Time        `json:"created_at"`
	Source          ProgramMetadata  `json:"source"`
	Followup        FollowupMetadata `json:"followup"`
	SourceResult    ExecutionResult  `json:"res_A"`
	FollowupResult  ExecutionResult  `json:"res_B"`
	Divergence      []Verdict        `json:"divergence"`
	Exceptions      Exceptions       `json:"exceptions"`
	Timings         Timings          `json:"timings"`
	IntegritySHA256 string           `json:"integrity_sha256,omitempty"`
}

// Verdict returns the first verdict produced by the named test.
func (r Record) Verdict(test string) (Verdict, bool) {
	for _, v := range r.Divergence {
		if v.Test == test || v.Detector == test {
			return v, true
		}
	}
	return Verdict{}, false
}
