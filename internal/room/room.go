// Package room binds matched players to live game sessions. A slot is
// ownership-bearing: exactly one connection holds it at a time, with a
// newer tab superseding the old one rather than duplicating ownership.
package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/game"
	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/timer"
)

var ErrPlayerAlreadyInRoom = errors.New("player already holds an active room")
var ErrUnknownRoom = errors.New("unknown room")
var ErrNotAParticipant = errors.New("player is not a participant of this room")

type MatchType string

const (
	TypeDirect      MatchType = "direct"
	TypeMatchmaking MatchType = "matchmaking"
)

// TournamentType builds the match type for a tournament stage,
// "tournament:<scopeId>:<matchKey>".
func TournamentType(scope string, match invite.MatchKey) MatchType {
	return MatchType("tournament:" + scope + ":" + string(match))
}

// Tournament splits a tournament match type back into its scope and stage.
func (mt MatchType) Tournament() (scope string, match invite.MatchKey, ok bool) {
	parts := strings.SplitN(string(mt), ":", 3)
	if len(parts) != 3 || parts[0] != "tournament" {
		return "", "", false
	}
	return parts[1], invite.MatchKey(parts[2]), true
}

type Status string

const (
	StatusForming  Status = "forming"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Info is the externally visible room snapshot.
type Info struct {
	ID        string
	Type      MatchType
	Player1ID string
	Player2ID string
	Status    Status
	WinnerID  string
}

// Result is delivered to the sink exactly once per room, when the game
// session reports a winner or a disconnect grace window runs out.
type Result struct {
	Room     Info
	WinnerID string // empty when the room was cancelled (both players gone)
	Forfeit  bool
}

type ResultSink func(Result)

type roomState struct {
	info    Info
	conns   map[string]string // playerID -> connID holding the slot
	session game.Handle
}

// Registry is the authoritative map of active rooms. All mutation goes
// through one mutex; the result sink and supersession notifications are
// invoked outside it.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	byPlayer map[string]string // playerID -> active roomID

	games     game.Starter
	timer     *timer.Service
	grace     time.Duration
	sink      ResultSink
	allocHook func(Info)
	log       *zap.Logger
}

func NewRegistry(games game.Starter, timers *timer.Service, grace time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*roomState),
		byPlayer: make(map[string]string),
		games:    games,
		timer:    timers,
		grace:    grace,
		log:      log,
	}
}

// SetResultSink installs the terminal-result consumer. Must be called
// before any room can finish.
func (r *Registry) SetResultSink(sink ResultSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// SetAllocHook installs a callback invoked after every allocation, off
// the registry lock. The gateway uses it to bind the players' live
// connections into their slots.
func (r *Registry) SetAllocHook(hook func(Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocHook = hook
}

// Allocate creates a room for the pair and starts its game session.
// A player holding any active room cannot enter another: tournament rooms
// and matchmaking rooms are mutually exclusive while active.
func (r *Registry) Allocate(mt MatchType, p1, p2 string) (Info, error) {
	r.mu.Lock()
	if _, busy := r.byPlayer[p1]; busy {
		r.mu.Unlock()
		return Info{}, ErrPlayerAlreadyInRoom
	}
	if _, busy := r.byPlayer[p2]; busy {
		r.mu.Unlock()
		return Info{}, ErrPlayerAlreadyInRoom
	}

	id := uuid.NewString()
	session, err := r.games.StartSession(id, p1, p2)
	if err != nil {
		r.mu.Unlock()
		return Info{}, err
	}

	st := &roomState{
		info: Info{
			ID:        id,
			Type:      mt,
			Player1ID: p1,
			Player2ID: p2,
			Status:    StatusForming,
		},
		conns:   make(map[string]string),
		session: session,
	}
	r.rooms[id] = st
	r.byPlayer[p1] = id
	r.byPlayer[p2] = id
	info := st.info
	hook := r.allocHook
	r.mu.Unlock()

	r.log.Info("room allocated",
		zap.String("room", id),
		zap.String("type", string(mt)),
		zap.String("p1", p1),
		zap.String("p2", p2))
	if hook != nil {
		hook(info)
	}
	return info, nil
}

// Join binds a connection to the player's slot. If the player already
// holds the slot from another connection the newer one wins; the old
// connID is returned so the gateway can notify it.
func (r *Registry) Join(roomID, playerID, connID string) (Info, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return Info{}, "", ErrUnknownRoom
	}
	if playerID != st.info.Player1ID && playerID != st.info.Player2ID {
		return Info{}, "", ErrNotAParticipant
	}

	superseded := ""
	if old, bound := st.conns[playerID]; bound && old != connID {
		superseded = old
	}
	st.conns[playerID] = connID
	r.timer.Cancel(graceKey(roomID, playerID))

	if st.info.Status == StatusForming &&
		st.conns[st.info.Player1ID] != "" && st.conns[st.info.Player2ID] != "" {
		st.info.Status = StatusActive
	}
	return st.info, superseded, nil
}

// Disconnect releases the slot held by connID and starts the reconnect
// grace timer. Stale connections (already superseded) are ignored.
func (r *Registry) Disconnect(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byPlayer[playerID]
	if !ok {
		return
	}
	st := r.rooms[roomID]
	if st == nil || st.conns[playerID] != connID {
		return
	}
	delete(st.conns, playerID)

	r.timer.Schedule(graceKey(roomID, playerID), time.Now().Add(r.grace), func() {
		r.graceExpired(roomID, playerID)
	})
}

func (r *Registry) graceExpired(roomID, playerID string) {
	r.mu.Lock()
	st, ok := r.rooms[roomID]
	if !ok || st.conns[playerID] != "" {
		// Room already over, or the player reclaimed the slot.
		r.mu.Unlock()
		return
	}

	winner := ""
	other := st.info.Player1ID
	if other == playerID {
		other = st.info.Player2ID
	}
	if st.conns[other] != "" {
		winner = other
	}
	res := r.finishLocked(st, winner, true)
	r.mu.Unlock()

	r.log.Info("room forfeited on reconnect grace",
		zap.String("room", roomID),
		zap.String("gone", playerID),
		zap.String("winner", winner))
	r.emit(res)
}

// ReportResult records the game session's winner and finishes the room.
// Late or duplicate reports are absorbed as no-ops.
func (r *Registry) ReportResult(roomID, winnerID string) {
	r.mu.Lock()
	st, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("result for unknown room", zap.String("room", roomID))
		return
	}
	res := r.finishLocked(st, winnerID, false)
	r.mu.Unlock()

	r.emit(res)
}

// Abort tears a room down without emitting a result. Used when the owning
// tournament is cancelled.
func (r *Registry) Abort(roomID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return Info{}, false
	}
	r.releaseLocked(st)
	st.info.Status = StatusFinished
	return st.info, true
}

// ByPlayer returns the player's active room, if any.
func (r *Registry) ByPlayer(playerID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byPlayer[playerID]
	if !ok {
		return Info{}, false
	}
	return r.rooms[roomID].info, true
}

// Forward routes one game input to the session of the player's active
// room. Inputs with no active room are dropped.
func (r *Registry) Forward(playerID, key string, pressed bool) {
	r.mu.Lock()
	roomID, ok := r.byPlayer[playerID]
	var session game.Handle
	if ok {
		session = r.rooms[roomID].session
	}
	r.mu.Unlock()

	if session != nil {
		session.Input(playerID, key, pressed)
	}
}

func (r *Registry) finishLocked(st *roomState, winnerID string, forfeit bool) Result {
	r.releaseLocked(st)
	st.info.Status = StatusFinished
	st.info.WinnerID = winnerID
	return Result{Room: st.info, WinnerID: winnerID, Forfeit: forfeit}
}

// releaseLocked frees the players, timers, and session of a room and
// removes it from the registry.
func (r *Registry) releaseLocked(st *roomState) {
	delete(r.rooms, st.info.ID)
	delete(r.byPlayer, st.info.Player1ID)
	delete(r.byPlayer, st.info.Player2ID)
	r.timer.Cancel(graceKey(st.info.ID, st.info.Player1ID))
	r.timer.Cancel(graceKey(st.info.ID, st.info.Player2ID))
	if st.session != nil {
		st.session.Stop()
	}
}

func (r *Registry) emit(res Result) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(res)
	}
}

func graceKey(roomID, playerID string) string {
	return "room:" + roomID + ":grace:" + playerID
}
