// Package vote reduces repeated noisy observations to one representative
// value by majority vote.
//
// Ties are broken explicitly: the winner is the first value to reach the
// maximum count, in observation order. Map iteration order never matters.
package vote

// Tally counts observations of comparable values.
// The zero value is not usable; call New.
type Tally[K comparable] struct {
	counts map[K]int
	order  []K // distinct values in first-seen order
	best   K
	bestN  int
	total  int
}

// New returns an empty tally.
func New[K comparable]() *Tally[K] {
	return &Tally[K]{counts: make(map[K]int)}
}

// Add records one observation of v.
func (t *Tally[K]) Add(v K) {
	n, seen := t.counts[v]
	if !seen {
		t.order = append(t.order, v)
	}
	n++
	t.counts[v] = n
	t.total++
	// Strictly greater: a later value only takes over by exceeding the
	// count the current winner reached first.
	if n > t.bestN {
		t.best = v
		t.bestN = n
	}
}

// Winner returns the majority value and its count. ok is false when nothing
// was observed.
func (t *Tally[K]) Winner() (v K, count int, ok bool) {
	if t.total == 0 {
		var zero K
		return zero, 0, false
	}
	return t.best, t.bestN, true
}

// Count returns how many times v was observed.
func (t *Tally[K]) Count(v K) int { return t.counts[v] }

// Total returns the number of observations.
func (t *Tally[K]) Total() int { return t.total }

// Distinct returns the number of distinct values observed.
func (t *Tally[K]) Distinct() int { return len(t.order) }

// Values returns the distinct values in first-seen order.
func (t *Tally[K]) Values() []K {
	out := make([]K, len(t.order))
	copy(out, t.order)
	return out
}

// Majority is a convenience for a one-shot vote over a slice.
func Majority[K comparable](vals []K) (K, bool) {
	t := New[K]()
	for _, v := range vals {
		t.Add(v)
	}
	v, _, ok := t.Winner()
	return v, ok
}
