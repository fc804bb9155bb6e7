// Package items is the home-automation item store the bridge reads from and
// writes to. Every write carries the identity of the component that made it
// so listeners can ignore their own changes.
package items

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("item not found")

// Change describes one item value change.
type Change struct {
	Path   string
	Value  any
	Old    any
	Origin string // component identity that issued the write
	Source string // free-form traceability tag, e.g. "NSPanel1:SENSOR"
}

// Store defines the item store contract.
type Store interface {
	Get(path string) (any, bool)
	// Set writes value. Listeners are only notified when the value changed.
	Set(path string, value any, origin, source string) error
	// Subscribe registers fn for all changes. Returns an unsubscribe function.
	Subscribe(fn func(Change)) func()
	Keys() []string
	Close() error
}

// MemoryStore is an in-memory Store. It is also the cache in front of
// BoltStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any

	subMu  sync.RWMutex
	subs   map[uint64]func(Change)
	nextID uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
		subs:   make(map[uint64]func(Change)),
	}
}

// Seed sets initial values without notifying. Existing values are kept.
func (s *MemoryStore) Seed(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if _, ok := s.values[k]; !ok {
			s.values[k] = normalize(v)
		}
	}
}

func (s *MemoryStore) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

func (s *MemoryStore) Set(path string, value any, origin, source string) error {
	return s.set(path, value, origin, source, nil)
}

// set stores value and notifies listeners. persist, when non-nil, runs under
// the write lock before the in-memory value changes.
func (s *MemoryStore) set(path string, value any, origin, source string, persist func(string, any) error) error {
	if path == "" {
		return fmt.Errorf("set: empty item path")
	}
	value = normalize(value)

	s.mu.Lock()
	old, existed := s.values[path]
	if existed && reflect.DeepEqual(old, value) {
		s.mu.Unlock()
		return nil
	}
	if persist != nil {
		if err := persist(path, value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist %s: %w", path, err)
		}
	}
	s.values[path] = value
	s.mu.Unlock()

	s.notify(Change{Path: path, Value: value, Old: old, Origin: origin, Source: source})
	return nil
}

func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *MemoryStore) notify(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Close() error { return nil }

// normalize folds numeric types into float64 so equal values compare equal
// regardless of how they were produced.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// Float converts an item value to a number. Booleans map to 0/1 and numeric
// strings are parsed.
func Float(v any) (float64, bool) {
	switch n := normalize(v).(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool converts an item value to a boolean: non-zero numbers, true and the
// strings on/true/1 are true.
func Bool(v any) bool {
	switch n := normalize(v).(type) {
	case bool:
		return n
	case float64:
		return n != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "on", "true", "1", "yes":
			return true
		}
	}
	return false
}

// String formats an item value for the wire. Whole numbers have no decimals.
func String(v any) string {
	switch n := normalize(v).(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		if n {
			return "1"
		}
		return "0"
	case string:
		return n
	}
	return fmt.Sprint(v)
}
