// Package gateway is the socket boundary: it authenticates connections,
// routes inbound events to the invite store, bracket engine, room
// registry, and matchmaking queue, and fans broadcasts back out to the
// affected players' live connections.
package gateway

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/bracket"
	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/matchmaking"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/internal/store"
	"github.com/pongarena/match-backend/internal/timer"
	"github.com/pongarena/match-backend/pkg/types"
)

// AuthFunc resolves a request to a stable player identity. Session
// issuance itself lives outside this subsystem.
type AuthFunc func(r *http.Request) (playerID, displayName string, err error)

// QueryAuth is the development resolver: identity from query parameters.
func QueryAuth(r *http.Request) (string, string, error) {
	id := r.URL.Query().Get("player_id")
	if id == "" {
		return "", "", errMissingIdentity
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = id
	}
	return id, name, nil
}

type Config struct {
	InviteTTL      time.Duration
	ReconnectGrace time.Duration
	AllowedOrigins []string
}

type Gateway struct {
	log     *zap.Logger
	cfg     Config
	conns   *Conns
	invites *invite.Store
	timers  *timer.Service
	rooms   *room.Registry
	engine  *bracket.Engine
	queue   *matchmaking.Queue
	records store.Store
	auth    AuthFunc

	direct *directIndex
}

// New wires the gateway around an existing connection registry. The same
// registry serves as the bracket engine's broadcaster, so both ends
// address players, never sockets.
func New(log *zap.Logger, cfg Config, conns *Conns, invites *invite.Store, timers *timer.Service,
	rooms *room.Registry, engine *bracket.Engine, queue *matchmaking.Queue,
	records store.Store, auth AuthFunc) *Gateway {

	g := &Gateway{
		log:     log,
		cfg:     cfg,
		conns:   conns,
		invites: invites,
		timers:  timers,
		rooms:   rooms,
		engine:  engine,
		queue:   queue,
		records: records,
		auth:    auth,
		direct:  newDirectIndex(),
	}
	rooms.SetResultSink(g.onRoomResult)
	rooms.SetAllocHook(g.onRoomAllocated)
	return g
}

// onRoomAllocated claims the players' slots with their live connections
// as soon as the room exists, so disconnect tracking starts immediately.
func (g *Gateway) onRoomAllocated(info room.Info) {
	for _, pid := range []string{info.Player1ID, info.Player2ID} {
		connID, ok := g.conns.Latest(pid)
		if !ok {
			// Nobody home for this slot: run the reconnect grace clock
			// from allocation so the room cannot sit forming forever.
			g.rooms.Disconnect(pid, "")
			continue
		}
		if _, superseded, err := g.rooms.Join(info.ID, pid, connID); err == nil && superseded != "" {
			g.conns.SendConn(superseded, types.ServerMessage{Type: types.EvSuperseded})
			g.conns.Drop(superseded)
		}
	}
}

// onRoomResult receives every terminal room outcome and forwards
// tournament results into the owning bracket.
func (g *Gateway) onRoomResult(res room.Result) {
	if scope, _, ok := res.Room.Type.Tournament(); ok {
		if t := g.engine.Get(scope); t != nil {
			t.RoomResult(res.Room.ID, res.WinnerID)
		}
		return
	}
	g.log.Info("room finished",
		zap.String("room", res.Room.ID),
		zap.String("type", string(res.Room.Type)),
		zap.String("winner", res.WinnerID),
		zap.Bool("forfeit", res.Forfeit))
}

func (g *Gateway) route(playerID, name, connID string, cm types.ClientMessage) {
	switch cm.Type {
	case types.EvTournamentInviteResponse:
		g.handleTournamentResponse(playerID, connID, cm)
	case types.EvSendInvite:
		g.handleSendInvite(playerID, name, connID, cm.InviteeID)
	case types.EvAcceptInvite:
		g.handleDirectResponse(playerID, connID, cm.InviterID, invite.DecisionAccept)
	case types.EvDeclineInvite:
		g.handleDirectResponse(playerID, connID, cm.InviterID, invite.DecisionDecline)
	case types.EvJoinMatchmaking:
		g.handleJoinMatchmaking(playerID)
	case types.EvLeaveMatchmaking:
		g.queue.Cancel(playerID)
	case types.EvGameInput:
		g.rooms.Forward(playerID, cm.Key, cm.Pressed)
	default:
		g.reject(connID, "unknown event type")
	}
}

func (g *Gateway) handleTournamentResponse(playerID, connID string, cm types.ClientMessage) {
	decision, ok := parseDecision(cm.Response)
	if !ok {
		g.reject(connID, "response must be accept or decline")
		return
	}
	t := g.engine.Get(cm.TournamentID)
	if t == nil {
		g.reject(connID, invite.ErrUnknownInvite.Error())
		return
	}
	t.Respond(invite.MatchKey(cm.MatchKey), playerID, connID, decision)
}

// reject sends a structured reason to the originating connection only;
// it never terminates the connection.
func (g *Gateway) reject(connID, reason string) {
	g.conns.SendConn(connID, types.ServerMessage{Type: types.EvError, Error: reason})
}

// syncState pushes everything involving the player so a reconnecting
// client converges without replaying missed events.
func (g *Gateway) syncState(playerID, connID string) {
	sync := types.SyncPayload{}

	for _, inv := range g.invites.ByPlayer(playerID) {
		sync.Invites = append(sync.Invites, types.InvitePayload{
			ScopeID:     inv.Scope,
			MatchKey:    string(inv.Match),
			Player1ID:   inv.Player1.ID,
			Player2ID:   inv.Player2.ID,
			Player1Name: inv.Player1.Name,
			Player2Name: inv.Player2.Name,
			Status1:     string(inv.Status1),
			Status2:     string(inv.Status2),
			ExpiresAt:   inv.ExpiresAt,
		})
	}
	for _, t := range g.engine.ForPlayer(playerID) {
		sync.Tournaments = append(sync.Tournaments, bracket.SnapshotPayload(t.Snapshot()))
	}
	if info, ok := g.rooms.ByPlayer(playerID); ok {
		sync.Room = &types.RoomPayload{
			RoomID:    info.ID,
			MatchType: string(info.Type),
			Player1ID: info.Player1ID,
			Player2ID: info.Player2ID,
			Status:    string(info.Status),
		}
	}
	g.conns.SendConn(connID, types.ServerMessage{
		Type: types.EvSyncState,
		You:  playerID,
		Sync: &sync,
	})
}

// connected runs once per accepted socket, before the read loop.
func (g *Gateway) connected(ctx context.Context, playerID, name, connID string) {
	g.timers.Cancel(goneKey(playerID))

	if g.records != nil {
		if err := g.records.UpsertPlayer(ctx, playerID, name); err != nil {
			g.log.Warn("upsert player", zap.String("player", playerID), zap.Error(err))
		}
	}

	// Reclaim the player's room slot: the newest connection wins and any
	// older tab is told so and detached.
	if info, ok := g.rooms.ByPlayer(playerID); ok {
		if _, superseded, err := g.rooms.Join(info.ID, playerID, connID); err == nil && superseded != "" {
			g.conns.SendConn(superseded, types.ServerMessage{Type: types.EvSuperseded})
			g.conns.Drop(superseded)
		}
	}

	g.syncState(playerID, connID)
}

// disconnected runs when a socket's read loop ends.
func (g *Gateway) disconnected(playerID, connID string) {
	removed, remaining := g.conns.Remove(connID)
	if removed == "" {
		// Already detached (superseded tab); the newer connection owns
		// the player now.
		return
	}
	g.rooms.Disconnect(playerID, connID)
	if remaining > 0 {
		// Another tab is still live: hand it the room slot so the grace
		// clock never runs against a player who is present.
		if info, ok := g.rooms.ByPlayer(playerID); ok {
			if latest, ok := g.conns.Latest(playerID); ok {
				if _, _, err := g.rooms.Join(info.ID, playerID, latest); err != nil {
					g.log.Warn("rebind surviving connection",
						zap.String("player", playerID), zap.Error(err))
				}
			}
		}
		return
	}

	// Last connection gone: give the player the reconnect grace window,
	// then treat them as withdrawn.
	g.timers.Schedule(goneKey(playerID), time.Now().Add(g.cfg.ReconnectGrace), func() {
		g.playerGone(playerID)
	})
}

func (g *Gateway) playerGone(playerID string) {
	g.queue.Cancel(playerID)
	for _, t := range g.engine.ForPlayer(playerID) {
		t.PlayerGone(playerID)
	}
	g.log.Info("player gone", zap.String("player", playerID))
}

func parseDecision(s string) (invite.Decision, bool) {
	switch s {
	case "accept":
		return invite.DecisionAccept, true
	case "decline":
		return invite.DecisionDecline, true
	default:
		return "", false
	}
}

func goneKey(playerID string) string { return "gone:" + playerID }
