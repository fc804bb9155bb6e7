package history

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nspanel-bridge/internal/items"
)

func newTestHistory(t *testing.T) *SQLite {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSeriesLatestOldestFirst(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		if err := h.Record("power", float64(i), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	h.Record("other", 999, base)

	pts, err := h.Series("power", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != MaxPoints {
		t.Fatalf("points = %d, want %d", len(pts), MaxPoints)
	}
	if pts[0].Value != 12 || pts[len(pts)-1].Value != 99 {
		t.Errorf("range = %v..%v, want 12..99", pts[0].Value, pts[len(pts)-1].Value)
	}
	if !pts[0].Time.Equal(base.Add(12 * time.Minute)) {
		t.Errorf("first time = %v", pts[0].Time)
	}

	pts, _ = h.Series("power", 3)
	if len(pts) != 3 || pts[2].Value != 99 {
		t.Errorf("limited = %+v", pts)
	}
}

func TestCleanup(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Record("x", 1, base)
	h.Record("x", 2, base.Add(time.Hour))
	if err := h.Cleanup(base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	pts, _ := h.Series("x", 10)
	if len(pts) != 1 || pts[0].Value != 2 {
		t.Errorf("after cleanup = %+v", pts)
	}
}

func TestAttachRecordsWatchedNumericItems(t *testing.T) {
	h := newTestHistory(t)
	store := items.NewMemoryStore()
	unsub := h.Attach(store, []string{"power"})

	store.Set("power", 12.5, "test", "")
	store.Set("power", "n/a", "test", "")
	store.Set("unwatched", 3, "test", "")
	unsub()
	store.Set("power", 20, "test", "")

	pts, err := h.Series("power", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 1 || pts[0].Value != 12.5 {
		t.Errorf("points = %+v", pts)
	}
	if pts, _ := h.Series("unwatched", 10); len(pts) != 0 {
		t.Errorf("unwatched recorded: %+v", pts)
	}
}
