// Package scheduler runs named repeating and cron timers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns a set of named timers. Scheduling a name that already
// exists replaces the old timer.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	now     func() time.Time
}

// New creates and starts a scheduler. Cron specs include a seconds field.
func New(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	c.Start()
	return &Scheduler{
		cron:    c,
		entries: make(map[string]cron.EntryID),
		logger:  logger,
		now:     time.Now,
	}
}

// Every runs fn every interval, the first time after first.
func (s *Scheduler) Every(name string, interval, first time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	if first < 0 {
		first = 0
	}
	sched := &offsetSchedule{first: s.now().Add(first), every: interval}
	s.add(name, sched, fn)
	s.logger.Debug("scheduled", "name", name, "interval", interval, "first", first)
	return nil
}

// Cron runs fn on a six-field cron spec (seconds first).
func (s *Scheduler) Cron(name, spec string, fn func()) error {
	sched, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.add(name, sched, fn)
	s.logger.Debug("scheduled", "name", name, "spec", spec)
	return nil
}

func (s *Scheduler) add(name string, sched cron.Schedule, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(fn))
}

// Cancel removes the named timer. Unknown names are ignored.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// CancelPrefix removes every timer whose name starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, id := range s.entries {
		if strings.HasPrefix(name, prefix) {
			s.cron.Remove(id)
			delete(s.entries, name)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("timers cancelled", "prefix", prefix, "count", n)
	}
	return n
}

// Names returns the scheduled timer names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop removes all timers and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("stop: jobs still running")
	}
}

// offsetSchedule fires at first and then every interval after it.
type offsetSchedule struct {
	first time.Time
	every time.Duration
}

func (o *offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(o.first) {
		return o.first
	}
	n := t.Sub(o.first)/o.every + 1
	return o.first.Add(n * o.every)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
