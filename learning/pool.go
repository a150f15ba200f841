package learning

// minPoolCapacity is the capacity a pool starts with on its first append.
const minPoolCapacity = 16

// appendDoubling appends v, doubling the capacity whenever the pool is full.
func appendDoubling[T any](pool []T, v T) []T {
	if len(pool) == cap(pool) {
		newCap := 2 * cap(pool)
		if newCap < minPoolCapacity {
			newCap = minPoolCapacity
		}
		grown := make([]T, len(pool), newCap)
		copy(grown, pool)
		pool = grown
	}
	return append(pool, v)
}

func cloneVec(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}
