// Package scheduler runs deferred one-shot actions with cancellation keyed
// by flow-instance id. Scheduling never blocks the caller and cancellation
// is honored at fire time, not merely at schedule time.
package scheduler

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

type entry struct {
	timer     *time.Timer
	cancelled bool
}

// Scheduler owns the pending timers. A zero delay fires on a goroutine
// almost immediately; there is no cross-key ordering guarantee.
type Scheduler struct {
	mu      sync.Mutex
	logger  *slog.Logger
	pending map[string]*entry
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:  logger.With("module", "scheduler"),
		pending: make(map[string]*entry),
	}
}

// Schedule registers fn to run after delay. Scheduling again under the same
// key replaces the earlier pending action.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[key]; ok {
		existing.cancelled = true
		existing.timer.Stop()
	}

	e := &entry{}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cancelled := e.cancelled
		delete(s.pending, key)
		s.mu.Unlock()

		if cancelled {
			s.logger.Debug("Skipping cancelled dispatch", "key", key)

			return
		}

		fn()
	})

	s.pending[key] = e
	s.logger.Debug("Scheduled deferred dispatch", "key", key, "delay", delay)
}

// Cancel marks the pending action under key as a no-op. Returns whether a
// pending action existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[key]
	if !ok {
		return false
	}

	e.cancelled = true
	e.timer.Stop()
	delete(s.pending, key)

	return true
}

// CancelPrefix cancels every pending action whose key starts with prefix
// and returns how many were cancelled. Used when a flow is paused.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0

	for key, e := range s.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		e.cancelled = true
		e.timer.Stop()
		delete(s.pending, key)
		cancelled++
	}

	return cancelled
}

// Pending reports the number of not-yet-fired actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Stop cancels everything still pending.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.pending {
		e.cancelled = true
		e.timer.Stop()
		delete(s.pending, key)
	}
}
