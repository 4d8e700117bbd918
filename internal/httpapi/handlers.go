package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/bracket"
	"github.com/pongarena/match-backend/internal/store"
	"github.com/pongarena/match-backend/pkg/types"
)

type createTournamentRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

type createTournamentResponse struct {
	ID      string                  `json:"id"`
	Bracket types.TournamentPayload `json:"bracket"`
}

// CreateTournament forms a bracket for exactly four players. Matchups are
// by submitted order: semi1 is players[0] vs players[1], semi2 the rest.
func CreateTournament(engine *bracket.Engine, records store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTournamentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.PlayerIDs) != 4 || hasDuplicates(req.PlayerIDs) {
			http.Error(w, "exactly four distinct player ids required", http.StatusBadRequest)
			return
		}

		names, err := records.PlayersByID(r.Context(), req.PlayerIDs)
		if err != nil {
			log.Error("resolve player names", zap.Error(err))
			http.Error(w, "failed to resolve players", http.StatusInternalServerError)
			return
		}
		var players [4]bracket.Player
		for i, id := range req.PlayerIDs {
			name := names[id]
			if name == "" {
				name = id
			}
			players[i] = bracket.Player{ID: id, Name: name}
		}

		id := uuid.NewString()
		if err := records.CreateTournament(r.Context(), id); err != nil {
			log.Error("persist tournament", zap.String("tournament", id), zap.Error(err))
			http.Error(w, "failed to create tournament", http.StatusInternalServerError)
			return
		}
		t := engine.Create(id, players)
		if t == nil {
			http.Error(w, "engine shut down", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createTournamentResponse{
			ID:      id,
			Bracket: bracket.SnapshotPayload(t.Snapshot()),
		})
	}
}

// GetTournament returns the live bracket snapshot.
func GetTournament(engine *bracket.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := engine.Get(chi.URLParam(r, "id"))
		if t == nil {
			http.Error(w, "tournament not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(bracket.SnapshotPayload(t.Snapshot()))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}
