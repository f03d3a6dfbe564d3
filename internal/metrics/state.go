// Package metrics folds usage records into derived dashboard views.
//
// Each accumulator owns one slice of derived state. It is created empty for a
// single aggregation pass, fed record fragments through its Accumulate
// methods, and finalized with Compute. Compute never mutates the accumulator,
// so calling it early returns a snapshot of the data seen so far.
package metrics

import (
	"math"
	"slices"

	"github.com/samber/lo"
)

type set[K comparable] map[K]struct{}

func (s set[K]) add(k K) {
	s[k] = struct{}{}
}

func (s set[K]) has(k K) bool {
	_, ok := s[k]
	return ok
}

func setOf[K comparable](keys ...K) set[K] {
	s := make(set[K], len(keys))
	for _, k := range keys {
		s.add(k)
	}
	return s
}

// table is a map that remembers first-insertion order, which is the
// tie-break order for every ranking we produce.
type table[K comparable, V any] struct {
	rows  map[K]*V
	order []K
	init  func(K) *V
}

func newTable[K comparable, V any](init func(K) *V) *table[K, V] {
	if init == nil {
		init = func(K) *V { return new(V) }
	}
	return &table[K, V]{rows: make(map[K]*V), init: init}
}

// newSetTable returns a table whose rows are sets, typically of user ids.
func newSetTable[K comparable, E comparable]() *table[K, set[E]] {
	return newTable(func(K) *set[E] {
		s := set[E]{}
		return &s
	})
}

func (t *table[K, V]) at(k K) *V {
	if v, ok := t.rows[k]; ok {
		return v
	}
	v := t.init(k)
	t.rows[k] = v
	t.order = append(t.order, k)
	return v
}

func (t *table[K, V]) get(k K) (*V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

func (t *table[K, V]) len() int {
	return len(t.order)
}

func (t *table[K, V]) each(fn func(K, *V)) {
	for _, k := range t.order {
		fn(k, t.rows[k])
	}
}

// sortedDays returns the keys of a day-keyed table in ascending order.
func sortedDays[V any](t *table[string, V]) []string {
	days := slices.Clone(t.order)
	slices.Sort(days)
	return days
}

func sortedKeys[K interface{ ~string | ~int64 }](s set[K]) []K {
	keys := lo.Keys(s)
	slices.Sort(keys)
	return keys
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(part / whole * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
