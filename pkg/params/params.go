// Package params provides the ordered string key/value set used to describe
// a machine's configuration as it flows from config files to the hypervisor.
package params

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Set is an insertion-ordered mapping from string keys to string values.
// Keys are unique. The zero value is ready to use.
type Set struct {
	keys   []string
	values map[string]string
}

// New returns an empty Set.
func New() *Set {
	return &Set{values: make(map[string]string)}
}

// FromMap builds a Set from m. Iteration order of m is not defined, so callers
// that care about ordering should use Set directly.
func FromMap(m map[string]string) *Set {
	s := New()
	for k, v := range m {
		s.Set(k, v)
	}
	return s
}

func (s *Set) init() {
	if s.values == nil {
		s.values = make(map[string]string)
	}
}

// Get returns the value for key and whether it was present.
func (s *Set) Get(key string) (string, bool) {
	if s == nil || s.values == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// GetDefault returns the value for key, or def if absent.
func (s *Set) GetDefault(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Set stores value under key. An existing key keeps its position.
func (s *Set) Set(key, value string) {
	s.init()
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Replace deletes any existing value for key and appends the new one,
// moving the key to the end of the iteration order.
func (s *Set) Replace(key, value string) {
	s.Delete(key)
	s.Set(key, value)
}

// SetMissing stores value only if key is absent. It reports whether it stored.
func (s *Set) SetMissing(key, value string) bool {
	if s.Has(key) {
		return false
	}
	s.Set(key, value)
	return true
}

// Delete removes key. It reports whether the key was present.
func (s *Set) Delete(key string) bool {
	if !s.Has(key) {
		return false
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Each calls fn for every entry in insertion order.
func (s *Set) Each(fn func(key, value string)) {
	if s == nil {
		return
	}
	for _, k := range s.keys {
		fn(k, s.values[k])
	}
}

// AddMissing copies every entry of src whose key is not already present.
func (s *Set) AddMissing(src *Set) {
	src.Each(func(k, v string) {
		s.SetMissing(k, v)
	})
}

// Merge copies every entry of src, overwriting existing values in place.
func (s *Set) Merge(src *Set) {
	src.Each(s.Set)
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	out := New()
	s.Each(out.Set)
	return out
}

// Map returns a plain map copy.
func (s *Set) Map() map[string]string {
	out := make(map[string]string, s.Len())
	s.Each(func(k, v string) { out[k] = v })
	return out
}

// Int parses the value for key as a base-10 integer.
func (s *Set) Int(key string) (int, bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("params: %s: %q is not an integer", key, v)
	}
	return n, true, nil
}

type pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MarshalJSON encodes the set as an ordered list of key/value pairs.
func (s *Set) MarshalJSON() ([]byte, error) {
	pairs := make([]pair, 0, s.Len())
	s.Each(func(k, v string) { pairs = append(pairs, pair{Key: k, Value: v}) })
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the list form written by MarshalJSON.
func (s *Set) UnmarshalJSON(data []byte) error {
	var pairs []pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	s.keys = nil
	s.values = make(map[string]string, len(pairs))
	for _, p := range pairs {
		s.Set(p.Key, p.Value)
	}
	return nil
}
