// Package game is the boundary to the physics subsystem. The orchestrator
// starts and stops sessions and consumes the winner; everything about the
// tick loop itself lives behind the Handle.
package game

import (
	"sync"
)

// Handle is a live game session owned by the physics subsystem.
type Handle interface {
	// Input forwards one key transition for a player in the session.
	Input(playerID, key string, pressed bool)
	// Stop tears the session down without producing a result.
	Stop()
}

// Starter launches sessions. Results come back asynchronously through the
// ResultFunc registered with the engine, never as a return value.
type Starter interface {
	StartSession(roomID, p1, p2 string) (Handle, error)
}

// ResultFunc receives the winner of a finished session.
type ResultFunc func(roomID, winnerID string)

// StubEngine is a Starter for development and tests. Sessions record
// inputs and finish only when Finish is called, so orchestration logic
// never depends on physics timing.
type StubEngine struct {
	mu       sync.Mutex
	onResult ResultFunc
	sessions map[string]*StubSession
}

func NewStubEngine(onResult ResultFunc) *StubEngine {
	return &StubEngine{
		onResult: onResult,
		sessions: make(map[string]*StubSession),
	}
}

func (e *StubEngine) StartSession(roomID, p1, p2 string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := &StubSession{roomID: roomID, p1: p1, p2: p2}
	e.sessions[roomID] = sess
	return sess, nil
}

// Finish reports winnerID for the session and removes it. No-op when the
// session is unknown or already stopped.
func (e *StubEngine) Finish(roomID, winnerID string) {
	e.mu.Lock()
	sess, ok := e.sessions[roomID]
	if ok {
		delete(e.sessions, roomID)
	}
	onResult := e.onResult
	e.mu.Unlock()

	if ok && !sess.stopped() && onResult != nil {
		onResult(roomID, winnerID)
	}
}

// Session returns the live stub session for a room. Test hook.
func (e *StubEngine) Session(roomID string) (*StubSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[roomID]
	return sess, ok
}

type StubSession struct {
	mu      sync.Mutex
	roomID  string
	p1, p2  string
	inputs  []Input
	stopSet bool
}

type Input struct {
	PlayerID string
	Key      string
	Pressed  bool
}

func (s *StubSession) Input(playerID, key string, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSet {
		return
	}
	s.inputs = append(s.inputs, Input{PlayerID: playerID, Key: key, Pressed: pressed})
}

func (s *StubSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSet = true
}

func (s *StubSession) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopSet
}

// Inputs returns a copy of the recorded inputs. Test hook.
func (s *StubSession) Inputs() []Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Input, len(s.inputs))
	copy(out, s.inputs)
	return out
}
