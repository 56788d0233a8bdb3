package domain

// Program is an immutable generated artifact. Transformation produces a new
// Program; it never edits an existing one.
type Program struct {
	ID       string
	Text     string
	Metadata ProgramMetadata
}

// ProgramMetadata describes how a program was generated.
type ProgramMetadata struct {
	ProgramID         string   `json:"program_id"`
	Generator         string   `json:"generator"`
	GateSet           []string `json:"selected_gate_set"`
	Optimizations     []string `json:"selected_optimization"`
	Shots             int      `json:"shots"`
	NQubits           int      `json:"n_qubits"`
	NOps              int      `json:"n_ops"`
	OptLevel          int      `json:"opt_level"`
	Backend           string   `json:"backend"`
	FilePath          string   `json:"py_file_path"`
	GenerationSeconds float64  `json:"time_generation"`
}

// FollowupMetadata extends the source metadata with the applied rules.
// RuleInfo holds per-step blobs whose shape differs between rules; it is
// written to the metadata files but never reaches the record store.
type FollowupMetadata struct {
	ProgramMetadata
	Rules            []string            `json:"metamorphic_strategies"`
	RuleSeconds      []float64           `json:"metamorphic_times"`
	TransformSeconds float64             `json:"time_metamorph"`
	DiffSummary      string              `json:"diff_summary,omitempty"`
	RuleInfo         map[string]Metadata `json:"metamorphic_info,omitempty"`
}

func (m ProgramMetadata) Clone() ProgramMetadata {
	out := m
	out.GateSet = append([]string(nil), m.GateSet...)
	out.Optimizations = append([]string(nil), m.Optimizations...)
	return out
}
