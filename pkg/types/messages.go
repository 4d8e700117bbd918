package types

import "time"

// Client -> Server event names.
const (
	EvTournamentInviteResponse = "tournament_match_invite_response"
	EvSendInvite               = "send_invite"
	EvAcceptInvite             = "accept_invite"
	EvDeclineInvite            = "decline_invite"
	EvJoinMatchmaking          = "join_matchmaking"
	EvLeaveMatchmaking         = "leave_matchmaking"
	EvGameInput                = "game_input"
)

// Server -> Client event names.
const (
	EvTournamentInvite       = "tournament_match_invite"
	EvTournamentInviteUpdate = "tournament_match_invite_update"
	EvTournamentUpdate       = "tournament_update"
	EvTournamentCompleted    = "tournament_completed"
	EvTournamentCancelled    = "tournament_cancelled"
	EvRemoteRoomJoined       = "remote_room_joined"
	EvReceiveInvite          = "receive_invite"
	EvInviteConsumed         = "invite_consumed"
	EvInviteCleared          = "invite_cleared"
	EvSyncState              = "sync_state"
	EvSuperseded             = "superseded"
	EvError                  = "error"
)

type ClientMessage struct {
	Type         string `json:"type"`
	TournamentID string `json:"tournament_id,omitempty"`
	MatchKey     string `json:"match_key,omitempty"`
	Response     string `json:"response,omitempty"` // "accept" | "decline"
	InviterID    string `json:"inviter_id,omitempty"`
	InviteeID    string `json:"invitee_id,omitempty"`
	Key          string `json:"key,omitempty"`
	Pressed      bool   `json:"pressed,omitempty"`
}

type ServerMessage struct {
	Type       string             `json:"type"`
	You        string             `json:"you,omitempty"`
	Winner     string             `json:"winner,omitempty"`
	Error      string             `json:"error,omitempty"`
	Invite     *InvitePayload     `json:"invite,omitempty"`
	Tournament *TournamentPayload `json:"tournament,omitempty"`
	Room       *RoomPayload       `json:"room,omitempty"`
	Direct     *DirectPayload     `json:"direct,omitempty"`
	Sync       *SyncPayload       `json:"sync,omitempty"`
}

// InvitePayload is the snapshot pushed on invite creation and on every
// status transition until resolution. Clients derive their countdown from
// ExpiresAt; the server never pushes per-second ticks.
type InvitePayload struct {
	ScopeID     string    `json:"scope_id"`
	MatchKey    string    `json:"match_key"`
	Player1ID   string    `json:"player1_id"`
	Player2ID   string    `json:"player2_id"`
	Player1Name string    `json:"player1_name,omitempty"`
	Player2Name string    `json:"player2_name,omitempty"`
	Status1     string    `json:"status1"`
	Status2     string    `json:"status2"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type MatchPayload struct {
	Player1ID   string `json:"player1_id,omitempty"`
	Player2ID   string `json:"player2_id,omitempty"`
	Player1Name string `json:"player1_name,omitempty"`
	Player2Name string `json:"player2_name,omitempty"`
	WinnerID    string `json:"winner_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
}

type TournamentPayload struct {
	ID    string       `json:"id"`
	State string       `json:"state"`
	Semi1 MatchPayload `json:"semi1"`
	Semi2 MatchPayload `json:"semi2"`
	Final MatchPayload `json:"final"`
}

type RoomPayload struct {
	RoomID    string `json:"room_id"`
	MatchType string `json:"match_type"`
	Player1ID string `json:"player1_id"`
	Player2ID string `json:"player2_id"`
	Status    string `json:"status"`
}

// DirectPayload describes a non-tournament 1v1 invite.
type DirectPayload struct {
	InviteID    string    `json:"invite_id"`
	InviterID   string    `json:"inviter_id"`
	InviterName string    `json:"inviter_name,omitempty"`
	InviteeID   string    `json:"invitee_id"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// SyncPayload is pushed once on join so a reconnecting client converges
// without a gap-filled event log.
type SyncPayload struct {
	Invites     []InvitePayload     `json:"invites"`
	Tournaments []TournamentPayload `json:"tournaments"`
	Room        *RoomPayload        `json:"room,omitempty"`
}
