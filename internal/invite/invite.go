// Package invite holds pending match invites and serializes their
// resolution. An invite resolves exactly once: both sides accept, either
// side declines, or the expiry timer wins the race. After resolution every
// further signal for the key is a no-op so duplicate delivery from flaky
// clients never surfaces as a failure.
package invite

import (
	"errors"
	"sync"
	"time"
)

var ErrUnknownInvite = errors.New("unknown or expired invite")
var ErrNotAParticipant = errors.New("player is not a participant of this invite")

type MatchKey string

const (
	MatchSemi1  MatchKey = "semi1"
	MatchSemi2  MatchKey = "semi2"
	MatchFinal  MatchKey = "final"
	MatchDirect MatchKey = "direct"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Key identifies an invite: the tournament or ad-hoc pairing scope plus
// the match slot within it.
type Key struct {
	Scope string
	Match MatchKey
}

func (k Key) String() string { return "invite:" + k.Scope + ":" + string(k.Match) }

type Player struct {
	ID   string
	Name string
}

type Invite struct {
	Scope     string
	Match     MatchKey
	Player1   Player
	Player2   Player
	Status1   Status
	Status2   Status
	ExpiresAt time.Time
}

func (inv Invite) Key() Key { return Key{Scope: inv.Scope, Match: inv.Match} }

func (inv Invite) HasPlayer(playerID string) bool {
	return inv.Player1.ID == playerID || inv.Player2.ID == playerID
}

// StatusOf returns the recorded status for playerID, or "" for outsiders.
func (inv Invite) StatusOf(playerID string) Status {
	switch playerID {
	case inv.Player1.ID:
		return inv.Status1
	case inv.Player2.ID:
		return inv.Status2
	}
	return ""
}

type Outcome string

const (
	// OutcomeAccepted: both players accepted; the match should start.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDeclined: one player declined.
	OutcomeDeclined Outcome = "declined"
	// OutcomeTimeout: the expiry timer won; per-side statuses in the
	// resolution snapshot decide forfeit vs double-forfeit.
	OutcomeTimeout Outcome = "timeout"
)

// Resolution is the terminal record of an invite, carrying the statuses
// held at the instant it resolved.
type Resolution struct {
	Outcome Outcome
	Invite  Invite
	// ByPlayer is the player whose response caused the resolution.
	// Empty for timeouts.
	ByPlayer string
}

// Store is the invite record store. One mutex covers the whole map; every
// transition for a key is linearized through it, so an accept racing the
// expiry callback commits in lock-acquisition order and the loser sees an
// already-resolved (removed) invite.
type Store struct {
	mu      sync.Mutex
	invites map[Key]*Invite
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		invites: make(map[Key]*Invite),
		now:     time.Now,
	}
}

// Create registers a pending invite. If an unresolved invite already exists
// for the key the existing one is returned with created=false (duplicate
// creation is a soft no-op, not an error).
func (s *Store) Create(scope string, match MatchKey, p1, p2 Player, ttl time.Duration) (Invite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Scope: scope, Match: match}
	if existing, ok := s.invites[key]; ok {
		return *existing, false
	}

	inv := &Invite{
		Scope:     scope,
		Match:     match,
		Player1:   p1,
		Player2:   p2,
		Status1:   StatusPending,
		Status2:   StatusPending,
		ExpiresAt: s.now().Add(ttl),
	}
	s.invites[key] = inv
	return *inv, true
}

// Respond applies a player's decision. Returns the invite snapshot after
// the transition and, when the decision resolved the invite, a non-nil
// Resolution. A repeat response from a player who already answered returns
// the current state unchanged.
func (s *Store) Respond(scope string, match MatchKey, playerID string, d Decision) (Invite, *Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Scope: scope, Match: match}
	inv, ok := s.invites[key]
	if !ok {
		return Invite{}, nil, ErrUnknownInvite
	}
	if !inv.HasPlayer(playerID) {
		return *inv, nil, ErrNotAParticipant
	}
	if inv.StatusOf(playerID) != StatusPending {
		// AlreadyResponded: idempotent no-op.
		return *inv, nil, nil
	}

	status := StatusAccepted
	if d == DecisionDecline {
		status = StatusDeclined
	}
	if playerID == inv.Player1.ID {
		inv.Status1 = status
	} else {
		inv.Status2 = status
	}

	if status == StatusDeclined {
		delete(s.invites, key)
		return *inv, &Resolution{Outcome: OutcomeDeclined, Invite: *inv, ByPlayer: playerID}, nil
	}
	if inv.Status1 == StatusAccepted && inv.Status2 == StatusAccepted {
		delete(s.invites, key)
		return *inv, &Resolution{Outcome: OutcomeAccepted, Invite: *inv, ByPlayer: playerID}, nil
	}
	return *inv, nil, nil
}

// Expire resolves the invite to a timeout if it is still unresolved.
// Reports false when the key is unknown, meaning an accept or decline got
// there first and this expiry is a benign stale fire.
func (s *Store) Expire(scope string, match MatchKey) (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Scope: scope, Match: match}
	inv, ok := s.invites[key]
	if !ok {
		return Resolution{}, false
	}
	delete(s.invites, key)
	return Resolution{Outcome: OutcomeTimeout, Invite: *inv}, true
}

// Get returns the current unresolved invite for the key, if any.
func (s *Store) Get(scope string, match MatchKey) (Invite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[Key{Scope: scope, Match: match}]
	if !ok {
		return Invite{}, false
	}
	return *inv, true
}

// ByPlayer returns every unresolved invite the player participates in.
// Used to resynchronize a reconnecting client.
func (s *Store) ByPlayer(playerID string) []Invite {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Invite
	for _, inv := range s.invites {
		if inv.HasPlayer(playerID) {
			out = append(out, *inv)
		}
	}
	return out
}

// ClearScope drops every invite under scope and returns the removed keys
// so the caller can cancel their timers. Used on tournament teardown.
func (s *Store) ClearScope(scope string) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Key
	for key := range s.invites {
		if key.Scope == scope {
			delete(s.invites, key)
			removed = append(removed, key)
		}
	}
	return removed
}
