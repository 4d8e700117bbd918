// Package timer schedules keyed expiry callbacks. A callback fires at most
// once per scheduled key and never after Cancel or a replacing Schedule.
package timer

import (
	"sync"
	"time"
)

type entry struct {
	t   *time.Timer
	gen uint64
}

// Service keeps one armed timer per key. Generations come from a single
// monotonic counter, so a fire queued for a stale entry can never match a
// later one; consumed and cancelled keys leave no state behind.
type Service struct {
	mu     sync.Mutex
	seq    uint64
	timers map[string]*entry
}

func NewService() *Service {
	return &Service{timers: make(map[string]*entry)}
}

// Schedule arms fn to run at fireAt, replacing any prior timer for key.
func (s *Service) Schedule(key string, fireAt time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[key]; ok {
		e.t.Stop()
	}
	s.seq++
	gen := s.seq

	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	s.timers[key] = &entry{
		gen: gen,
		t: time.AfterFunc(d, func() {
			s.fire(key, gen, fn)
		}),
	}
}

func (s *Service) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.gen != gen {
		// Replaced or cancelled after this fire was queued.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	fn()
}

// Cancel drops any pending timer for key. Safe to call for unknown keys.
func (s *Service) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[key]; ok {
		e.t.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels every pending timer.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.timers {
		e.t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports how many timers are armed. Test hook.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
