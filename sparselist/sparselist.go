// Package sparselist provides a default-valued sparse map: a lookup
// returns a fixed zero value if the key is absent, and mutation is the
// only thing that materialises an entry, without ever scanning a
// node-boundary range to pre-populate zero values. It backs the
// per-source Brandes scratch state (σ, d, δ, predecessor lists) in
// package betweenness.
package sparselist

// Map is a map from K to V with a fixed zero value returned for
// absent keys. Get never materialises an entry; Set and the mutating
// helpers do.
type Map[K comparable, V any] struct {
	m    map[K]V
	zero V
}

// New creates a Map whose absent-key lookups return zero.
func New[K comparable, V any](zero V) *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V), zero: zero}
}

// Get returns the value at key, or the zero value if absent.
func (s *Map[K, V]) Get(key K) V {
	if v, ok := s.m[key]; ok {
		return v
	}
	return s.zero
}

// Set materialises key with value.
func (s *Map[K, V]) Set(key K, value V) {
	s.m[key] = value
}

// Has reports whether key has been materialised.
func (s *Map[K, V]) Has(key K) bool {
	_, ok := s.m[key]
	return ok
}

// Len returns the number of materialised keys.
func (s *Map[K, V]) Len() int {
	return len(s.m)
}

// Each calls fn for every materialised key/value pair, in unspecified
// order.
func (s *Map[K, V]) Each(fn func(key K, value V)) {
	for k, v := range s.m {
		fn(k, v)
	}
}

// Append materialises key (starting from zero, if absent) and appends
// item to it. V must itself be a slice type for this to be meaningful.
func Append[K comparable, T any](s *Map[K, []T], key K, item T) {
	s.Set(key, append(s.Get(key), item))
}
