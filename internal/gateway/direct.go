package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/pkg/types"
)

// Direct (non-tournament) pairings: a player-to-player invite, or a pair
// formed by the matchmaking queue. Both ride the invite store under an
// ad-hoc scope id with the "direct" match key; the bookkeeping here maps
// inviter/invitee pairs back to that scope.

type directMeta struct {
	scope       string
	inviter     invite.Player
	invitee     invite.Player
	matchmaking bool
}

type directIndex struct {
	mu      sync.Mutex
	byScope map[string]directMeta
	byPair  map[string]string // "inviter|invitee" -> scope
}

func newDirectIndex() *directIndex {
	return &directIndex{
		byScope: make(map[string]directMeta),
		byPair:  make(map[string]string),
	}
}

func pairKey(inviterID, inviteeID string) string { return inviterID + "|" + inviteeID }

func (d *directIndex) put(meta directMeta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byScope[meta.scope] = meta
	d.byPair[pairKey(meta.inviter.ID, meta.invitee.ID)] = meta.scope
	if meta.matchmaking {
		// Queue pairings are symmetric: either side may name the other
		// as the inviter.
		d.byPair[pairKey(meta.invitee.ID, meta.inviter.ID)] = meta.scope
	}
}

func (d *directIndex) byInviter(inviterID, inviteeID string) (directMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	scope, ok := d.byPair[pairKey(inviterID, inviteeID)]
	if !ok {
		return directMeta{}, false
	}
	return d.byScope[scope], true
}

func (d *directIndex) remove(scope string) (directMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.byScope[scope]
	if !ok {
		return directMeta{}, false
	}
	delete(d.byScope, scope)
	delete(d.byPair, pairKey(meta.inviter.ID, meta.invitee.ID))
	delete(d.byPair, pairKey(meta.invitee.ID, meta.inviter.ID))
	return meta, true
}

func (g *Gateway) handleSendInvite(playerID, name, connID, inviteeID string) {
	if inviteeID == "" || inviteeID == playerID {
		g.reject(connID, "invalid invitee")
		return
	}

	// Repeat sends for the same pair are a soft no-op: re-push the
	// existing invite instead of minting a second one.
	if meta, ok := g.direct.byInviter(playerID, inviteeID); ok {
		if inv, live := g.invites.Get(meta.scope, invite.MatchDirect); live {
			g.sendReceiveInvite(meta, inv)
			return
		}
	}

	meta := directMeta{
		scope:   uuid.NewString(),
		inviter: invite.Player{ID: playerID, Name: name},
		invitee: invite.Player{ID: inviteeID, Name: g.displayName(inviteeID)},
	}
	inv, _ := g.invites.Create(meta.scope, invite.MatchDirect, meta.inviter, meta.invitee, g.cfg.InviteTTL)
	// The inviter consents by inviting; only the invitee's answer is open.
	if _, _, err := g.invites.Respond(meta.scope, invite.MatchDirect, playerID, invite.DecisionAccept); err != nil {
		g.log.Warn("seed inviter acceptance", zap.String("scope", meta.scope), zap.Error(err))
	}
	g.direct.put(meta)
	g.scheduleDirectExpiry(inv)
	g.sendReceiveInvite(meta, inv)

	g.log.Info("direct invite sent",
		zap.String("scope", meta.scope),
		zap.String("inviter", playerID),
		zap.String("invitee", inviteeID))
}

func (g *Gateway) handleDirectResponse(playerID, connID, inviterID string, decision invite.Decision) {
	meta, ok := g.direct.byInviter(inviterID, playerID)
	if !ok {
		// Late or duplicate responses after resolution are absorbed, but
		// an accept of something that never existed deserves an answer.
		if decision == invite.DecisionAccept {
			g.reject(connID, invite.ErrUnknownInvite.Error())
		}
		return
	}
	_, res, err := g.invites.Respond(meta.scope, invite.MatchDirect, playerID, decision)
	if err != nil {
		g.reject(connID, err.Error())
		return
	}
	if res == nil {
		// Either an idempotent repeat or (queue pairing) the first of two
		// acceptances; nothing resolves yet.
		return
	}

	g.direct.remove(meta.scope)
	g.timers.Cancel(invite.Key{Scope: meta.scope, Match: invite.MatchDirect}.String())

	switch res.Outcome {
	case invite.OutcomeAccepted:
		g.openDirectRoom(meta)
	case invite.OutcomeDeclined:
		g.clearDirect(meta, res)
	}
}

func (g *Gateway) openDirectRoom(meta directMeta) {
	mt := room.TypeDirect
	if meta.matchmaking {
		mt = room.TypeMatchmaking
	}
	info, err := g.rooms.Allocate(mt, meta.inviter.ID, meta.invitee.ID)
	if err != nil {
		g.log.Warn("direct room allocation failed",
			zap.String("scope", meta.scope), zap.Error(err))
		g.conns.Send(pairIDs(meta), types.ServerMessage{
			Type:   types.EvInviteCleared,
			Direct: directPayload(meta, invite.Invite{}),
		})
		return
	}

	payload := directPayload(meta, invite.Invite{})
	g.conns.Send(pairIDs(meta), types.ServerMessage{
		Type:   types.EvInviteConsumed,
		Direct: payload,
	})
	for _, pid := range pairIDs(meta) {
		g.conns.Send([]string{pid}, types.ServerMessage{
			Type: types.EvRemoteRoomJoined,
			You:  pid,
			Room: &types.RoomPayload{
				RoomID:    info.ID,
				MatchType: string(info.Type),
				Player1ID: info.Player1ID,
				Player2ID: info.Player2ID,
				Status:    string(info.Status),
			},
		})
	}
}

// clearDirect tears down a declined pairing. For queue pairings the side
// that was still willing goes back to the front of the line.
func (g *Gateway) clearDirect(meta directMeta, res *invite.Resolution) {
	g.conns.Send(pairIDs(meta), types.ServerMessage{
		Type:   types.EvInviteCleared,
		Direct: directPayload(meta, res.Invite),
	})
	if meta.matchmaking && res.ByPlayer != "" {
		other := meta.inviter.ID
		if other == res.ByPlayer {
			other = meta.invitee.ID
		}
		g.queue.Requeue(other)
		g.tryPair()
	}
}

func (g *Gateway) scheduleDirectExpiry(inv invite.Invite) {
	scope := inv.Scope
	g.timers.Schedule(inv.Key().String(), inv.ExpiresAt, func() {
		g.directExpired(scope)
	})
}

func (g *Gateway) directExpired(scope string) {
	res, ok := g.invites.Expire(scope, invite.MatchDirect)
	if !ok {
		return
	}
	meta, ok := g.direct.remove(scope)
	if !ok {
		return
	}
	g.conns.Send(pairIDs(meta), types.ServerMessage{
		Type:   types.EvInviteCleared,
		Direct: directPayload(meta, res.Invite),
	})
	if meta.matchmaking {
		// Whoever accepted in time keeps their place in line.
		for _, p := range []invite.Player{meta.inviter, meta.invitee} {
			if res.Invite.StatusOf(p.ID) == invite.StatusAccepted {
				g.queue.Requeue(p.ID)
			}
		}
		g.tryPair()
	}
	g.log.Info("direct invite expired", zap.String("scope", scope))
}

func (g *Gateway) handleJoinMatchmaking(playerID string) {
	if _, busy := g.rooms.ByPlayer(playerID); busy {
		return
	}
	g.queue.Enqueue(playerID)
	g.tryPair()
}

// tryPair drains the queue two at a time. Each pair gets a consent invite
// rather than being thrown straight into a room.
func (g *Gateway) tryPair() {
	for {
		p1, p2, ok := g.queue.PopPair()
		if !ok {
			return
		}
		meta := directMeta{
			scope:       uuid.NewString(),
			inviter:     invite.Player{ID: p1, Name: g.displayName(p1)},
			invitee:     invite.Player{ID: p2, Name: g.displayName(p2)},
			matchmaking: true,
		}
		inv, _ := g.invites.Create(meta.scope, invite.MatchDirect, meta.inviter, meta.invitee, g.cfg.InviteTTL)
		g.direct.put(meta)
		g.scheduleDirectExpiry(inv)

		// Both sides see the other as the inviter.
		g.conns.Send([]string{p2}, types.ServerMessage{
			Type: types.EvReceiveInvite,
			You:  p2,
			Direct: &types.DirectPayload{
				InviteID:    meta.scope,
				InviterID:   p1,
				InviterName: meta.inviter.Name,
				InviteeID:   p2,
				ExpiresAt:   inv.ExpiresAt,
			},
		})
		g.conns.Send([]string{p1}, types.ServerMessage{
			Type: types.EvReceiveInvite,
			You:  p1,
			Direct: &types.DirectPayload{
				InviteID:    meta.scope,
				InviterID:   p2,
				InviterName: meta.invitee.Name,
				InviteeID:   p1,
				ExpiresAt:   inv.ExpiresAt,
			},
		})
		g.log.Info("matchmaking pair formed",
			zap.String("scope", meta.scope),
			zap.String("p1", p1),
			zap.String("p2", p2))
	}
}

func (g *Gateway) sendReceiveInvite(meta directMeta, inv invite.Invite) {
	g.conns.Send([]string{meta.invitee.ID}, types.ServerMessage{
		Type: types.EvReceiveInvite,
		You:  meta.invitee.ID,
		Direct: &types.DirectPayload{
			InviteID:    meta.scope,
			InviterID:   meta.inviter.ID,
			InviterName: meta.inviter.Name,
			InviteeID:   meta.invitee.ID,
			ExpiresAt:   inv.ExpiresAt,
		},
	})
}

func (g *Gateway) displayName(playerID string) string {
	if g.records == nil {
		return playerID
	}
	names, err := g.records.PlayersByID(context.Background(), []string{playerID})
	if err != nil || names[playerID] == "" {
		return playerID
	}
	return names[playerID]
}

func directPayload(meta directMeta, _ invite.Invite) *types.DirectPayload {
	return &types.DirectPayload{
		InviteID:  meta.scope,
		InviterID: meta.inviter.ID,
		InviteeID: meta.invitee.ID,
	}
}

func pairIDs(meta directMeta) []string {
	return []string{meta.inviter.ID, meta.invitee.ID}
}
