// Package bracket owns tournament structure and winner advancement. Each
// tournament is a single-owner actor: all mutation flows through its inbox
// and is applied by one loop goroutine, so invite resolutions, room
// results, and withdrawal signals for a scope are naturally serialized.
package bracket

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/internal/timer"
	"github.com/pongarena/match-backend/pkg/types"
)

type Player struct {
	ID   string
	Name string
}

type StageMatch struct {
	Player1  Player
	Player2  Player
	WinnerID string
	RoomID   string
}

func (m StageMatch) known() bool { return m.Player1.ID != "" && m.Player2.ID != "" }

type State string

const (
	StatePending         State = "pending"
	StateSemis           State = "semis-in-progress"
	StateFinalPending    State = "final-pending"
	StateFinalInProgress State = "final-in-progress"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
)

func (s State) terminal() bool { return s == StateCompleted || s == StateCancelled }

type Snapshot struct {
	ID    string
	State State
	Semi1 StageMatch
	Semi2 StageMatch
	Final StageMatch
}

// Broadcaster delivers a message to the named players' live connections
// only, never globally. SendConn targets a single socket, used for
// rejection replies to the connection that sent the offending message.
type Broadcaster interface {
	Send(playerIDs []string, msg types.ServerMessage)
	SendConn(connID string, msg types.ServerMessage)
}

// Records is the persistence slice consumed by the bracket: the result
// written once the tournament reaches a terminal state.
type Records interface {
	SaveTournamentResult(ctx context.Context, id, winnerID string, cancelled bool) error
}

// Rooms is the slice of the room registry a tournament drives.
type Rooms interface {
	Allocate(mt room.MatchType, p1, p2 string) (room.Info, error)
	Abort(roomID string) (room.Info, bool)
}

type Deps struct {
	Invites   *invite.Store
	Timers    *timer.Service
	Rooms     Rooms
	Records   Records
	Broadcast Broadcaster
	Log       *zap.Logger
	InviteTTL time.Duration

	// OnFinished runs after a tournament reaches a terminal state, on the
	// tournament's own goroutine. The engine uses it to drop the entry.
	OnFinished func(id string)
}

type msg interface{ isTournamentMsg() }

type respondMsg struct {
	match    invite.MatchKey
	playerID string
	connID   string
	decision invite.Decision
}

type expireMsg struct{ match invite.MatchKey }

type roomResultMsg struct {
	roomID   string
	winnerID string
}

type playerGoneMsg struct{ playerID string }

type shutdownMsg struct{}

func (respondMsg) isTournamentMsg()    {}
func (expireMsg) isTournamentMsg()     {}
func (roomResultMsg) isTournamentMsg() {}
func (playerGoneMsg) isTournamentMsg() {}
func (shutdownMsg) isTournamentMsg()   {}

type Tournament struct {
	id      string
	members []Player // immutable after construction
	inbox   chan msg
	deps    Deps

	state State
	semi1 StageMatch
	semi2 StageMatch
	final StageMatch

	snap   atomic.Pointer[Snapshot]
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTournament starts the actor. The semi matchups are known up front,
// so it moves straight to semis-in-progress and pushes both invites.
func NewTournament(parent context.Context, id string, players [4]Player, deps Deps) *Tournament {
	ctx, cancel := context.WithCancel(parent)
	t := &Tournament{
		id:      id,
		members: players[:],
		inbox:   make(chan msg, 64),
		deps:    deps,
		state:   StatePending,
		semi1:   StageMatch{Player1: players[0], Player2: players[1]},
		semi2:   StageMatch{Player1: players[2], Player2: players[3]},
		ctx:     ctx,
		cancel:  cancel,
	}
	t.publish()
	go t.loop()
	return t
}

func (t *Tournament) ID() string { return t.id }

func (t *Tournament) HasPlayer(playerID string) bool {
	for _, p := range t.members {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// Snapshot returns the latest published bracket state without touching
// the actor goroutine.
func (t *Tournament) Snapshot() Snapshot { return *t.snap.Load() }

// Respond routes a participant's invite decision into the actor. connID
// is the socket the decision arrived on; rejections go back to it alone.
func (t *Tournament) Respond(match invite.MatchKey, playerID, connID string, decision invite.Decision) {
	t.post(respondMsg{match: match, playerID: playerID, connID: connID, decision: decision})
}

// RoomResult reports the winner of a stage's room.
func (t *Tournament) RoomResult(roomID, winnerID string) {
	t.post(roomResultMsg{roomID: roomID, winnerID: winnerID})
}

// PlayerGone reports that a participant's reconnect grace ran out while
// they were not bound to any room.
func (t *Tournament) PlayerGone(playerID string) {
	t.post(playerGoneMsg{playerID: playerID})
}

func (t *Tournament) Shutdown() { t.post(shutdownMsg{}) }

func (t *Tournament) post(m msg) {
	select {
	case t.inbox <- m:
	case <-t.ctx.Done():
	}
}

func (t *Tournament) loop() {
	t.start()
	for {
		select {
		case <-t.ctx.Done():
			return
		case m := <-t.inbox:
			switch m := m.(type) {
			case respondMsg:
				t.handleRespond(m)
			case expireMsg:
				t.handleExpire(m.match)
			case roomResultMsg:
				t.handleRoomResult(m.roomID, m.winnerID)
			case playerGoneMsg:
				t.handlePlayerGone(m.playerID)
			case shutdownMsg:
				t.teardown()
				return
			}
		}
	}
}

func (t *Tournament) start() {
	t.state = StateSemis
	t.createInvite(invite.MatchSemi1, t.semi1)
	t.createInvite(invite.MatchSemi2, t.semi2)
	t.broadcastBracket()
}

func (t *Tournament) createInvite(match invite.MatchKey, m StageMatch) {
	inv, created := t.deps.Invites.Create(t.id, match,
		invite.Player{ID: m.Player1.ID, Name: m.Player1.Name},
		invite.Player{ID: m.Player2.ID, Name: m.Player2.Name},
		t.deps.InviteTTL)
	if !created {
		return
	}
	t.deps.Timers.Schedule(inv.Key().String(), inv.ExpiresAt, func() {
		t.post(expireMsg{match: match})
	})

	payload := invitePayload(inv)
	for _, pid := range []string{m.Player1.ID, m.Player2.ID} {
		t.deps.Broadcast.Send([]string{pid}, types.ServerMessage{
			Type:   types.EvTournamentInvite,
			You:    pid,
			Invite: &payload,
		})
	}
	t.deps.Log.Info("tournament invite created",
		zap.String("tournament", t.id),
		zap.String("match", string(match)))
}

func (t *Tournament) handleRespond(m respondMsg) {
	if t.state.terminal() {
		return
	}
	inv, res, err := t.deps.Invites.Respond(t.id, m.match, m.playerID, m.decision)
	if err != nil {
		// Rejections go to the originating connection only, not every
		// tab the player has open.
		t.deps.Broadcast.SendConn(m.connID, types.ServerMessage{
			Type:  types.EvError,
			Error: err.Error(),
		})
		return
	}

	payload := invitePayload(inv)
	t.deps.Broadcast.Send(participants(inv), types.ServerMessage{
		Type:   types.EvTournamentInviteUpdate,
		Invite: &payload,
	})

	if res == nil {
		return
	}
	t.deps.Timers.Cancel(inv.Key().String())

	switch res.Outcome {
	case invite.OutcomeAccepted:
		t.openRoom(m.match)
	case invite.OutcomeDeclined:
		// Declining a tournament match is a forfeit: the opponent
		// advances as a 1-0 winner.
		t.advance(m.match, opponentOf(res.Invite, res.ByPlayer))
	}
}

func (t *Tournament) handleExpire(match invite.MatchKey) {
	if t.state.terminal() {
		return
	}
	res, ok := t.deps.Invites.Expire(t.id, match)
	if !ok {
		// Resolution beat the timer; benign stale fire.
		return
	}
	t.deps.Log.Info("tournament invite expired",
		zap.String("tournament", t.id),
		zap.String("match", string(match)))

	switch {
	case res.Invite.Status1 == invite.StatusAccepted:
		t.advance(match, res.Invite.Player1.ID)
	case res.Invite.Status2 == invite.StatusAccepted:
		t.advance(match, res.Invite.Player2.ID)
	default:
		// Double forfeit: nobody answered.
		t.cancelTournament("invite timed out with no responses")
	}
}

func (t *Tournament) openRoom(match invite.MatchKey) {
	m := t.stage(match)
	info, err := t.deps.Rooms.Allocate(room.TournamentType(t.id, match), m.Player1.ID, m.Player2.ID)
	if err != nil {
		t.deps.Log.Error("room allocation failed",
			zap.String("tournament", t.id),
			zap.String("match", string(match)),
			zap.Error(err))
		t.cancelTournament("room allocation failed")
		return
	}
	m.RoomID = info.ID
	if match == invite.MatchFinal {
		t.state = StateFinalInProgress
	}

	rp := roomPayload(info)
	for _, pid := range []string{m.Player1.ID, m.Player2.ID} {
		t.deps.Broadcast.Send([]string{pid}, types.ServerMessage{
			Type: types.EvRemoteRoomJoined,
			You:  pid,
			Room: &rp,
		})
	}
	t.broadcastBracket()
}

func (t *Tournament) handleRoomResult(roomID, winnerID string) {
	if t.state.terminal() {
		return
	}
	switch roomID {
	case t.semi1.RoomID:
		if t.semi1.WinnerID == "" {
			if winnerID == "" {
				t.cancelTournament("both players left the match")
				return
			}
			t.advance(invite.MatchSemi1, winnerID)
		}
	case t.semi2.RoomID:
		if t.semi2.WinnerID == "" {
			if winnerID == "" {
				t.cancelTournament("both players left the match")
				return
			}
			t.advance(invite.MatchSemi2, winnerID)
		}
	case t.final.RoomID:
		if t.final.WinnerID == "" {
			if winnerID == "" {
				t.cancelTournament("both players left the match")
				return
			}
			t.advance(invite.MatchFinal, winnerID)
		}
	}
}

// advance records a stage winner and moves the bracket forward. The final
// only becomes playable once both semis have winners.
func (t *Tournament) advance(match invite.MatchKey, winnerID string) {
	m := t.stage(match)
	if m == nil || m.WinnerID != "" {
		return
	}
	m.WinnerID = winnerID

	switch match {
	case invite.MatchSemi1:
		t.final.Player1 = t.playerByID(winnerID)
	case invite.MatchSemi2:
		t.final.Player2 = t.playerByID(winnerID)
	case invite.MatchFinal:
		t.complete(winnerID)
		return
	}

	if t.final.known() && t.final.WinnerID == "" && t.state == StateSemis {
		t.state = StateFinalPending
		t.createInvite(invite.MatchFinal, t.final)
	}
	t.broadcastBracket()
}

func (t *Tournament) complete(winnerID string) {
	t.state = StateCompleted
	t.broadcastBracket()
	t.deps.Broadcast.Send(t.memberIDs(), types.ServerMessage{
		Type:       types.EvTournamentCompleted,
		Winner:     winnerID,
		Tournament: t.bracketPayload(),
	})
	if err := t.deps.Records.SaveTournamentResult(context.Background(), t.id, winnerID, false); err != nil {
		t.deps.Log.Error("persist tournament result", zap.String("tournament", t.id), zap.Error(err))
	}
	t.deps.Log.Info("tournament completed",
		zap.String("tournament", t.id),
		zap.String("winner", winnerID))
	t.teardown()
}

func (t *Tournament) cancelTournament(reason string) {
	if t.state.terminal() {
		return
	}
	t.state = StateCancelled
	for _, m := range []*StageMatch{&t.semi1, &t.semi2, &t.final} {
		if m.RoomID != "" && m.WinnerID == "" {
			t.deps.Rooms.Abort(m.RoomID)
		}
	}
	t.broadcastBracket()
	t.deps.Broadcast.Send(t.memberIDs(), types.ServerMessage{
		Type:       types.EvTournamentCancelled,
		Tournament: t.bracketPayload(),
	})
	if err := t.deps.Records.SaveTournamentResult(context.Background(), t.id, "", true); err != nil {
		t.deps.Log.Error("persist tournament cancellation", zap.String("tournament", t.id), zap.Error(err))
	}
	t.deps.Log.Info("tournament cancelled",
		zap.String("tournament", t.id),
		zap.String("reason", reason))
	t.teardown()
}

func (t *Tournament) handlePlayerGone(playerID string) {
	if t.state.terminal() || !t.required(playerID) {
		return
	}
	t.cancelTournament("participant gone: " + playerID)
}

// required reports whether the tournament still needs the player: they
// appear in a stage that has no winner yet and they have not been
// eliminated by an earlier stage.
func (t *Tournament) required(playerID string) bool {
	for _, m := range []*StageMatch{&t.semi1, &t.semi2} {
		if m.WinnerID == "" && (m.Player1.ID == playerID || m.Player2.ID == playerID) {
			return true
		}
		if m.WinnerID != "" && m.WinnerID == playerID && t.final.WinnerID == "" {
			return true
		}
	}
	return false
}

func (t *Tournament) teardown() {
	for _, key := range t.deps.Invites.ClearScope(t.id) {
		t.deps.Timers.Cancel(key.String())
	}
	t.publish()
	if t.deps.OnFinished != nil {
		t.deps.OnFinished(t.id)
	}
	t.cancel()
}

func (t *Tournament) stage(match invite.MatchKey) *StageMatch {
	switch match {
	case invite.MatchSemi1:
		return &t.semi1
	case invite.MatchSemi2:
		return &t.semi2
	case invite.MatchFinal:
		return &t.final
	}
	return nil
}

func (t *Tournament) playerByID(id string) Player {
	for _, p := range t.members {
		if p.ID == id {
			return p
		}
	}
	return Player{ID: id}
}

func (t *Tournament) memberIDs() []string {
	ids := make([]string, len(t.members))
	for i, p := range t.members {
		ids[i] = p.ID
	}
	return ids
}

func (t *Tournament) publish() {
	snap := Snapshot{ID: t.id, State: t.state, Semi1: t.semi1, Semi2: t.semi2, Final: t.final}
	t.snap.Store(&snap)
}

func (t *Tournament) broadcastBracket() {
	t.publish()
	t.deps.Broadcast.Send(t.memberIDs(), types.ServerMessage{
		Type:       types.EvTournamentUpdate,
		Tournament: t.bracketPayload(),
	})
}

func (t *Tournament) bracketPayload() *types.TournamentPayload {
	snap := t.Snapshot()
	p := SnapshotPayload(snap)
	return &p
}

// SnapshotPayload converts a bracket snapshot to its wire form.
func SnapshotPayload(snap Snapshot) types.TournamentPayload {
	return types.TournamentPayload{
		ID:    snap.ID,
		State: string(snap.State),
		Semi1: matchPayload(snap.Semi1),
		Semi2: matchPayload(snap.Semi2),
		Final: matchPayload(snap.Final),
	}
}

func matchPayload(m StageMatch) types.MatchPayload {
	return types.MatchPayload{
		Player1ID:   m.Player1.ID,
		Player2ID:   m.Player2.ID,
		Player1Name: m.Player1.Name,
		Player2Name: m.Player2.Name,
		WinnerID:    m.WinnerID,
		RoomID:      m.RoomID,
	}
}

func invitePayload(inv invite.Invite) types.InvitePayload {
	return types.InvitePayload{
		ScopeID:     inv.Scope,
		MatchKey:    string(inv.Match),
		Player1ID:   inv.Player1.ID,
		Player2ID:   inv.Player2.ID,
		Player1Name: inv.Player1.Name,
		Player2Name: inv.Player2.Name,
		Status1:     string(inv.Status1),
		Status2:     string(inv.Status2),
		ExpiresAt:   inv.ExpiresAt,
	}
}

func roomPayload(info room.Info) types.RoomPayload {
	return types.RoomPayload{
		RoomID:    info.ID,
		MatchType: string(info.Type),
		Player1ID: info.Player1ID,
		Player2ID: info.Player2ID,
		Status:    string(info.Status),
	}
}

func participants(inv invite.Invite) []string {
	return []string{inv.Player1.ID, inv.Player2.ID}
}

func opponentOf(inv invite.Invite, playerID string) string {
	if inv.Player1.ID == playerID {
		return inv.Player2.ID
	}
	return inv.Player1.ID
}
