package items

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestBolt(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMemorySetNotifiesOnChangeOnly(t *testing.T) {
	s := NewMemoryStore()
	var changes []Change
	unsub := s.Subscribe(func(c Change) { changes = append(changes, c) })

	if err := s.Set("licht.eg", true, "nspanel", "NSPanel1:RESULT"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("licht.eg", true, "nspanel", "NSPanel1:RESULT"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("dimmer", 40, "automation", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("dimmer", 40.0, "automation", ""); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	c := changes[0]
	if c.Path != "licht.eg" || c.Value != true || c.Old != nil || c.Origin != "nspanel" || c.Source != "NSPanel1:RESULT" {
		t.Errorf("change = %+v", c)
	}

	unsub()
	s.Set("dimmer", 50, "automation", "")
	if len(changes) != 2 {
		t.Error("listener called after unsubscribe")
	}
}

func TestMemorySeed(t *testing.T) {
	s := NewMemoryStore()
	s.Set("a", 1, "test", "")
	s.Seed(map[string]any{"a": 2, "b": "x"})
	if v, _ := s.Get("a"); v != 1.0 {
		t.Errorf("a = %v, want existing 1", v)
	}
	if v, _ := s.Get("b"); v != "x" {
		t.Errorf("b = %v", v)
	}
	if keys := s.Keys(); len(keys) != 2 || keys[0] != "a" {
		t.Errorf("keys = %v", keys)
	}
}

func TestSetEmptyPath(t *testing.T) {
	if err := NewMemoryStore().Set("", 1, "test", ""); err == nil {
		t.Error("expected error")
	}
}

func TestBoltPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	s := newTestBolt(t, path)

	if err := s.Set("temp.kitchen", 21.5, "nspanel", "NSPanel1:SENSOR"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("mode", "Comfort", "nspanel", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Seed(map[string]any{"mode": "Night", "volume": 30}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = newTestBolt(t, path)
	defer s.Close()
	tests := map[string]any{"temp.kitchen": 21.5, "mode": "Comfort", "volume": 30.0}
	for k, want := range tests {
		if got, ok := s.Get(k); !ok || got != want {
			t.Errorf("%s = %v (%v), want %v", k, got, ok, want)
		}
	}

	if err := s.Delete("mode"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("mode"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestConversions(t *testing.T) {
	floats := []struct {
		in   any
		want float64
		ok   bool
	}{
		{3, 3, true},
		{true, 1, true},
		{" 2.5 ", 2.5, true},
		{"x", 0, false},
		{nil, 0, false},
	}
	for _, tt := range floats {
		got, ok := Float(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Float(%v) = %v, %v", tt.in, got, ok)
		}
	}

	bools := map[any]bool{true: true, 0: false, 2.0: true, "ON": true, "off": false, nil: false}
	for in, want := range bools {
		if Bool(in) != want {
			t.Errorf("Bool(%v) != %v", in, want)
		}
	}

	strs := []struct {
		in   any
		want string
	}{
		{21.5, "21.5"},
		{40, "40"},
		{true, "1"},
		{"abc", "abc"},
		{nil, ""},
	}
	for _, tt := range strs {
		if got := String(tt.in); got != tt.want {
			t.Errorf("String(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
