package generator

import "math/rand/v2"

// Dropout keeps a random floor(len(items)*fraction) sized subset of items
// without replacement. A nil fraction keeps every item in order.
func Dropout[T any](rng *rand.Rand, items []T, fraction *float64) []T {
	if fraction == nil {
		return append([]T(nil), items...)
	}
	f := *fraction
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	size := int(float64(len(items)) * f)
	out := make([]T, 0, size)
	for _, idx := range rng.Perm(len(items))[:size] {
		out = append(out, items[idx])
	}
	return out
}
