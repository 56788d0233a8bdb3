package domain

import (
	"sort"
	"time"
)

const (
	PlatformSource   = "source"
	PlatformFollowup = "follow_up"
)

// Distribution maps an outcome label to the number of times it was observed.
type Distribution map[string]int

func (d Distribution) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// Labels returns the outcome labels in lexicographic order.
func (d Distribution) Labels() []string {
	labels := make([]string, 0, len(d))
	for label := range d {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (d Distribution) Clone() Distribution {
	out := make(Distribution, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// FallbackDistribution is substituted for the output of a crashed execution.
func FallbackDistribution(label string) Distribution {
	return Distribution{label: 1}
}

// ExecutionResult is the outcome of running one program. Error is set only
// when the candidate crashed, in which case Distribution is the fallback.
type ExecutionResult struct {
	Platform     string       `json:"platform"`
	Distribution Distribution `json:"distribution"`
	Crashed      bool         `json:"crashed"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Seconds      float64      `json:"time_exec"`
}

// Exceptions collects the crash texts of both sides of an iteration.
type Exceptions struct {
	Source   string `json:"source,omitempty"`
	Followup string `json:"followup,omitempty"`
}

func (e Exceptions) Any() bool {
	return e.Source != "" || e.Followup != ""
}
