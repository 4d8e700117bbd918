package timer

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestFiresOnce(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("k", time.Now().Add(10*time.Millisecond), func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("want exactly one fire, got %d", got)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("k", time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })
	s.Cancel("k")

	time.Sleep(80 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

func TestScheduleReplacesPrior(t *testing.T) {
	s := NewService()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("k", time.Now().Add(20*time.Millisecond), func() { first.Add(1) })
	s.Schedule("k", time.Now().Add(40*time.Millisecond), func() { second.Add(1) })

	time.Sleep(150 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatalf("replaced timer must never fire")
	}
	if second.Load() != 1 {
		t.Fatalf("replacement fired %d times, want 1", second.Load())
	}
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	s := NewService()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("k", time.Now().Add(-time.Second), func() { close(done) })

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for past-deadline fire")
	}
}

func TestNoStateRetainedAfterUse(t *testing.T) {
	s := NewService()
	defer s.Stop()

	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%d", i)
		s.Schedule(k, time.Now().Add(time.Hour), func() {})
		s.Cancel(k)
	}
	done := make(chan struct{})
	s.Schedule("fired", time.Now().Add(-time.Second), func() { close(done) })
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for fire")
	}

	// Consumed and cancelled keys leave nothing behind.
	s.mu.Lock()
	n := len(s.timers)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("want no retained entries, got %d", n)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	s := NewService()

	var fired atomic.Int32
	for _, k := range []string{"a", "b", "c"} {
		s.Schedule(k, time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })
	}
	if s.Pending() != 3 {
		t.Fatalf("want 3 pending, got %d", s.Pending())
	}
	s.Stop()

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("stopped timers fired %d times", fired.Load())
	}
}
