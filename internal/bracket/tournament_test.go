package bracket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/internal/store"
	"github.com/pongarena/match-backend/internal/timer"
	"github.com/pongarena/match-backend/pkg/types"
)

type sent struct {
	to  []string
	msg types.ServerMessage
}

type connSent struct {
	connID string
	msg    types.ServerMessage
}

type fakeBroadcast struct {
	ch   chan sent
	conn chan connSent
}

func (f *fakeBroadcast) Send(ids []string, msg types.ServerMessage) {
	f.ch <- sent{to: ids, msg: msg}
}

func (f *fakeBroadcast) SendConn(connID string, msg types.ServerMessage) {
	f.conn <- connSent{connID: connID, msg: msg}
}

type fakeRooms struct {
	mu        sync.Mutex
	n         int
	allocated []room.Info
	aborted   []string
}

func (f *fakeRooms) Allocate(mt room.MatchType, p1, p2 string) (room.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	info := room.Info{
		ID:        fmt.Sprintf("room-%d", f.n),
		Type:      mt,
		Player1ID: p1,
		Player2ID: p2,
		Status:    room.StatusForming,
	}
	f.allocated = append(f.allocated, info)
	return info, nil
}

func (f *fakeRooms) Abort(roomID string) (room.Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, roomID)
	return room.Info{ID: roomID, Status: room.StatusFinished}, true
}

func (f *fakeRooms) abortedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.aborted))
	copy(out, f.aborted)
	return out
}

type fixture struct {
	t        *Tournament
	bc       *fakeBroadcast
	rooms    *fakeRooms
	records  *store.Memory
	finished chan string
}

func fourPlayers() [4]Player {
	return [4]Player{
		{ID: "a", Name: "Alice"},
		{ID: "b", Name: "Bob"},
		{ID: "c", Name: "Cara"},
		{ID: "d", Name: "Dan"},
	}
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	timers := timer.NewService()
	t.Cleanup(timers.Stop)

	fx := &fixture{
		bc:       &fakeBroadcast{ch: make(chan sent, 128), conn: make(chan connSent, 16)},
		rooms:    &fakeRooms{},
		records:  store.NewMemory(),
		finished: make(chan string, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fx.t = NewTournament(ctx, "t1", fourPlayers(), Deps{
		Invites:   invite.NewStore(),
		Timers:    timers,
		Rooms:     fx.rooms,
		Records:   fx.records,
		Broadcast: fx.bc,
		Log:       zap.NewNop(),
		InviteTTL: ttl,
		OnFinished: func(id string) {
			select {
			case fx.finished <- id:
			default:
			}
		},
	})
	return fx
}

func waitType(t *testing.T, ch <-chan sent, msgType string, within time.Duration) sent {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case s := <-ch:
			if s.msg.Type == msgType {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return sent{}
		}
	}
}

func expectNoType(t *testing.T, ch <-chan sent, msgType string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case s := <-ch:
			if s.msg.Type == msgType {
				t.Fatalf("unexpected %s: %+v", msgType, s.msg)
			}
		case <-deadline:
			return
		}
	}
}

func waitState(t *testing.T, tn *Tournament, want State, within time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		snap := tn.Snapshot()
		if snap.State == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %s, stuck at %s", want, snap.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartCreatesBothSemiInvites(t *testing.T) {
	fx := newFixture(t, time.Minute)

	got := make(map[string]bool)
	for i := 0; i < 4; i++ {
		s := waitType(t, fx.bc.ch, types.EvTournamentInvite, time.Second)
		if len(s.to) != 1 {
			t.Fatalf("invites are addressed per player, got targets %v", s.to)
		}
		got[s.to[0]] = true
		if s.msg.You != s.to[0] {
			t.Fatalf("you field must match the recipient")
		}
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if !got[id] {
			t.Fatalf("player %s never got a semi invite", id)
		}
	}

	snap := waitState(t, fx.t, StateSemis, time.Second)
	if snap.Semi1.Player1.ID != "a" || snap.Semi2.Player2.ID != "d" {
		t.Fatalf("unexpected matchups: %+v", snap)
	}
}

func TestMutualAcceptOpensRoomAndNoTimeoutFires(t *testing.T) {
	fx := newFixture(t, 150*time.Millisecond)

	fx.t.Respond(invite.MatchSemi1, "a", "ws-a", invite.DecisionAccept)
	s := waitType(t, fx.bc.ch, types.EvTournamentInviteUpdate, time.Second)
	if s.msg.Invite.Status1 != "accepted" || s.msg.Invite.Status2 != "pending" {
		t.Fatalf("after first accept: %+v", s.msg.Invite)
	}

	fx.t.Respond(invite.MatchSemi1, "b", "ws-b", invite.DecisionAccept)
	s = waitType(t, fx.bc.ch, types.EvTournamentInviteUpdate, time.Second)
	if s.msg.Invite.Status1 != "accepted" || s.msg.Invite.Status2 != "accepted" {
		t.Fatalf("after both accept: %+v", s.msg.Invite)
	}

	joined := waitType(t, fx.bc.ch, types.EvRemoteRoomJoined, time.Second)
	if joined.msg.Room.RoomID == "" {
		t.Fatalf("room id missing in %+v", joined.msg)
	}

	// The invite resolved, so its expiry must never produce a forfeit or
	// cancellation.
	expectNoType(t, fx.bc.ch, types.EvTournamentCancelled, 400*time.Millisecond)
	if snap := fx.t.Snapshot(); snap.Semi1.RoomID == "" || snap.Semi1.WinnerID != "" {
		t.Fatalf("semi1 should be in a room with no winner yet: %+v", snap.Semi1)
	}
}

func TestTimeoutAwardsForfeitToSoleAccepter(t *testing.T) {
	fx := newFixture(t, 60*time.Millisecond)

	fx.t.Respond(invite.MatchSemi1, "a", "ws-a", invite.DecisionAccept)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := fx.t.Snapshot()
		if snap.Semi1.WinnerID == "a" {
			if snap.Final.Player1.ID != "a" {
				t.Fatalf("forfeit winner not seeded into final: %+v", snap.Final)
			}
			if snap.Semi1.RoomID != "" {
				t.Fatalf("forfeit must not open a room")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("forfeit never awarded: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDoubleTimeoutCancelsTournament(t *testing.T) {
	fx := newFixture(t, 40*time.Millisecond)

	waitType(t, fx.bc.ch, types.EvTournamentCancelled, 2*time.Second)
	select {
	case id := <-fx.finished:
		if id != "t1" {
			t.Fatalf("finished callback for wrong id %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnFinished never ran")
	}

	rec, ok := fx.records.Tournament("t1")
	if !ok || !rec.Cancelled {
		t.Fatalf("cancellation not persisted: %+v ok=%v", rec, ok)
	}
}

func TestDeclineForfeitsToOpponent(t *testing.T) {
	fx := newFixture(t, time.Minute)

	fx.t.Respond(invite.MatchSemi1, "b", "ws-b", invite.DecisionDecline)

	deadline := time.Now().Add(time.Second)
	for {
		snap := fx.t.Snapshot()
		if snap.Semi1.WinnerID == "a" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("decline did not forfeit to opponent: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFullRunToCompletion(t *testing.T) {
	fx := newFixture(t, time.Minute)

	for _, p := range []string{"a", "b"} {
		fx.t.Respond(invite.MatchSemi1, p, "ws-"+p, invite.DecisionAccept)
	}
	for _, p := range []string{"c", "d"} {
		fx.t.Respond(invite.MatchSemi2, p, "ws-"+p, invite.DecisionAccept)
	}

	// Wait until both semi rooms exist.
	deadline := time.Now().Add(time.Second)
	var snap Snapshot
	for {
		snap = fx.t.Snapshot()
		if snap.Semi1.RoomID != "" && snap.Semi2.RoomID != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("semi rooms never opened: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// No completion before the final: winners are still missing.
	expectNoType(t, fx.bc.ch, types.EvTournamentCompleted, 50*time.Millisecond)

	fx.t.RoomResult(snap.Semi1.RoomID, "a")
	fx.t.RoomResult(snap.Semi2.RoomID, "c")
	snap = waitState(t, fx.t, StateFinalPending, time.Second)
	if snap.Final.Player1.ID != "a" || snap.Final.Player2.ID != "c" {
		t.Fatalf("final slots wrong: %+v", snap.Final)
	}

	fx.t.Respond(invite.MatchFinal, "a", "ws-a", invite.DecisionAccept)
	fx.t.Respond(invite.MatchFinal, "c", "ws-c", invite.DecisionAccept)
	snap = waitState(t, fx.t, StateFinalInProgress, time.Second)

	fx.t.RoomResult(snap.Final.RoomID, "c")
	done := waitType(t, fx.bc.ch, types.EvTournamentCompleted, time.Second)
	if done.msg.Winner != "c" {
		t.Fatalf("want winner c, got %q", done.msg.Winner)
	}

	rec, ok := fx.records.Tournament("t1")
	if !ok || rec.WinnerID != "c" || rec.Cancelled {
		t.Fatalf("result not persisted: %+v", rec)
	}
}

func TestRejectionTargetsOriginatingConnection(t *testing.T) {
	fx := newFixture(t, time.Minute)

	fx.t.Respond(invite.MatchSemi1, "zed", "ws-zed", invite.DecisionAccept)

	select {
	case cs := <-fx.bc.conn:
		if cs.connID != "ws-zed" || cs.msg.Type != types.EvError {
			t.Fatalf("unexpected rejection delivery: %+v", cs)
		}
	case <-time.After(time.Second):
		t.Fatalf("rejection never delivered to the origin connection")
	}
	// The player's other connections never see the error.
	expectNoType(t, fx.bc.ch, types.EvError, 100*time.Millisecond)
}

func TestPlayerGoneCancelsWhenStillRequired(t *testing.T) {
	fx := newFixture(t, time.Minute)

	fx.t.PlayerGone("b")
	waitType(t, fx.bc.ch, types.EvTournamentCancelled, time.Second)
}

func TestPlayerGoneIgnoredAfterElimination(t *testing.T) {
	fx := newFixture(t, time.Minute)

	// b declines, so a wins semi1 and b is out.
	fx.t.Respond(invite.MatchSemi1, "b", "ws-b", invite.DecisionDecline)
	deadline := time.Now().Add(time.Second)
	for fx.t.Snapshot().Semi1.WinnerID == "" {
		if time.Now().After(deadline) {
			t.Fatalf("semi1 never resolved")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fx.t.PlayerGone("b")
	expectNoType(t, fx.bc.ch, types.EvTournamentCancelled, 150*time.Millisecond)
}

func TestCancellationTearsDownLiveRooms(t *testing.T) {
	fx := newFixture(t, time.Minute)

	for _, p := range []string{"a", "b"} {
		fx.t.Respond(invite.MatchSemi1, p, "ws-"+p, invite.DecisionAccept)
	}
	deadline := time.Now().Add(time.Second)
	for fx.t.Snapshot().Semi1.RoomID == "" {
		if time.Now().After(deadline) {
			t.Fatalf("semi1 room never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fx.t.PlayerGone("c")
	waitType(t, fx.bc.ch, types.EvTournamentCancelled, time.Second)
	if rooms := fx.rooms.abortedRooms(); len(rooms) != 1 {
		t.Fatalf("live semi room not aborted: %v", rooms)
	}
}
