package scheduler

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := New(logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestOffsetScheduleNext(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &offsetSchedule{first: t0.Add(20 * time.Second), every: time.Minute}

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before first", t0, t0.Add(20 * time.Second)},
		{"at first", t0.Add(20 * time.Second), t0.Add(80 * time.Second)},
		{"between", t0.Add(90 * time.Second), t0.Add(140 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Next(tt.at); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestEveryFires(t *testing.T) {
	s := newTestScheduler(t)
	fired := make(chan struct{}, 10)
	if err := s.Every("tick", 20*time.Millisecond, 10*time.Millisecond, func() { notify(fired) }); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("timer fired %d times, want 2", i)
		}
	}
}

func TestEveryRejectsZeroInterval(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Every("x", 0, 0, func() {}); err == nil {
		t.Error("expected error")
	}
}

func TestCronSpec(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Cron("date", "1 0 0 * * *", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Cron("bad", "not a spec", func() {}); err == nil {
		t.Error("expected parse error")
	}
	if got := s.Names(); !slices.Equal(got, []string{"date"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(t)
	for _, name := range []string{"clock", "panel:a:weather", "panel:a:watch", "panel:b:weather"} {
		s.Every(name, time.Hour, time.Hour, func() {})
	}
	// Rescheduling replaces.
	s.Every("clock", time.Hour, time.Hour, func() {})

	if n := s.CancelPrefix("panel:a:"); n != 2 {
		t.Errorf("CancelPrefix = %d, want 2", n)
	}
	s.Cancel("clock")
	s.Cancel("unknown")
	if got := s.Names(); !slices.Equal(got, []string{"panel:b:weather"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestCancelledTimerDoesNotFire(t *testing.T) {
	s := newTestScheduler(t)
	fired := make(chan struct{}, 1)
	s.Every("x", 50*time.Millisecond, 50*time.Millisecond, func() { notify(fired) })
	s.Cancel("x")
	select {
	case <-fired:
		t.Error("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPanicRecovered(t *testing.T) {
	s := newTestScheduler(t)
	fired := make(chan struct{}, 10)
	var calls atomic.Int32
	s.Every("p", 20*time.Millisecond, 0, func() {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		notify(fired)
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not survive panic")
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
