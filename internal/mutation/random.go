// internal/mutation/random.go
package mutation

// Rand is the randomness source used by every heuristic. *rand.Rand from
// math/rand/v2 satisfies it; tests supply scripted sequences.
type Rand interface {
	// IntN returns a value in [0, n). It panics if n <= 0.
	IntN(n int) int
}

// RandomInt returns an integer in the closed range [min, max].
func RandomInt(r Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + r.IntN(max-min+1)
}

// RandomElement picks one item uniformly. The slice must not be empty.
func RandomElement[T any](r Rand, items []T) T {
	return items[r.IntN(len(items))]
}

// Shuffle returns a uniformly permuted copy of items (Fisher-Yates).
func Shuffle[T any](r Rand, items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// indices returns [0, 1, ..., n-1].
func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
