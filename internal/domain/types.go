package domain

import "time"

// Metadata is an unstructured metadata container for rule-specific details.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Seconds converts a duration to the float seconds stored in records.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}
