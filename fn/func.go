package fn

// Reducer represents a function that folds a value into an accumulator.
type Reducer[T, V any] func(accum T, value V) T

// Reduce folds the slice into a single accumulated value, starting from the
// zero value of T.
func Reduce[T any, V any, S []V](s S, f Reducer[T, V]) T {
	var accum T
	for _, x := range s {
		accum = f(accum, x)
	}

	return accum
}

// Filter returns a new slice holding only the elements for which the
// predicate returned true. The relative order is preserved.
func Filter[T any](s []T, f func(T) bool) []T {
	output := make([]T, 0, len(s))
	for _, x := range s {
		if f(x) {
			output = append(output, x)
		}
	}

	return output
}

// CopySlice returns a shallow copy of the passed slice. A nil slice stays
// nil.
func CopySlice[T any](s []T) []T {
	if s == nil {
		return nil
	}

	out := make([]T, len(s))
	copy(out, s)

	return out
}
