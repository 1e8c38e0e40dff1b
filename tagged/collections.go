package tagged

import (
	"encoding/json"
	"fmt"
)

// identity is the equality key for Set elements and Map keys.
// Values with the same JSON encoding are the same element.
func identity(v any) string {
	d, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%#v", v, v)
	}
	return string(d)
}

// Set is an insertion-ordered collection of unique values.
// The zero value is an empty set ready to use.
type Set struct {
	items []any
	index map[string]int
}

func NewSet(items ...any) *Set {
	s := &Set{}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

// Add appends v unless it's already present. Returns true if v was added.
func (s *Set) Add(v any) bool {
	id := identity(v)
	if _, ok := s.index[id]; ok {
		return false
	}
	if s.index == nil {
		s.index = map[string]int{}
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *Set) Has(v any) bool {
	_, ok := s.index[identity(v)]
	return ok
}

func (s *Set) Delete(v any) bool {
	id := identity(v)
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[identity(s.items[j])] = j
	}
	return true
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Values returns elements in insertion order
func (s *Set) Values() []any {
	if s == nil {
		return nil
	}
	return append([]any{}, s.items...)
}

// MarshalJSON encodes the set as an array so sets nested in other values
// serialize the same way as top-level ones. It has a value receiver so that
// a Set held by value (struct field, map value) isn't encoded as {}.
func (s Set) MarshalJSON() ([]byte, error) {
	items := s.items
	if items == nil {
		items = []any{}
	}
	return json.Marshal(items)
}

// UnmarshalJSON replaces the content of s with elements of a JSON array.
// null is an empty set.
func (s *Set) UnmarshalJSON(d []byte) error {
	var items []any
	if err := json.Unmarshal(d, &items); err != nil {
		return err
	}
	*s = Set{}
	for _, v := range items {
		s.Add(v)
	}
	return nil
}

// Pair is a single Map entry
type Pair struct {
	Key   any
	Value any
}

// Map is an insertion-ordered key-value mapping whose keys can be any
// JSON-encodable value. The zero value is an empty map ready to use.
type Map struct {
	pairs []Pair
	index map[string]int
}

func NewMap(pairs ...Pair) *Map {
	m := &Map{}
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Set adds or replaces the value for k. Replacing keeps the original position.
func (m *Map) Set(k, v any) {
	id := identity(k)
	if i, ok := m.index[id]; ok {
		m.pairs[i].Value = v
		return
	}
	if m.index == nil {
		m.index = map[string]int{}
	}
	m.index[id] = len(m.pairs)
	m.pairs = append(m.pairs, Pair{Key: k, Value: v})
}

func (m *Map) Get(k any) (any, bool) {
	i, ok := m.index[identity(k)]
	if !ok {
		return nil, false
	}
	return m.pairs[i].Value, true
}

func (m *Map) Has(k any) bool {
	_, ok := m.index[identity(k)]
	return ok
}

func (m *Map) Delete(k any) bool {
	id := identity(k)
	i, ok := m.index[id]
	if !ok {
		return false
	}
	m.pairs = append(m.pairs[:i], m.pairs[i+1:]...)
	delete(m.index, id)
	for j := i; j < len(m.pairs); j++ {
		m.index[identity(m.pairs[j].Key)] = j
	}
	return true
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

func (m *Map) Keys() []any {
	if m == nil {
		return nil
	}
	res := make([]any, len(m.pairs))
	for i, p := range m.pairs {
		res[i] = p.Key
	}
	return res
}

// Pairs returns entries in insertion order
func (m *Map) Pairs() []Pair {
	if m == nil {
		return nil
	}
	return append([]Pair{}, m.pairs...)
}

// MarshalJSON encodes the map as [[key, value], ...].
// Value receiver for the same reason as Set.MarshalJSON.
func (m Map) MarshalJSON() ([]byte, error) {
	res := make([][2]any, 0, len(m.pairs))
	for _, p := range m.pairs {
		res = append(res, [2]any{p.Key, p.Value})
	}
	return json.Marshal(res)
}

// UnmarshalJSON replaces the content of m with [[key, value], ...] pairs.
// null is an empty map.
func (m *Map) UnmarshalJSON(d []byte) error {
	parsed, err := decodeMap(d)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
