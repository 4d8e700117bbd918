package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/bracket"
	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/internal/store"
	"github.com/pongarena/match-backend/internal/timer"
	"github.com/pongarena/match-backend/pkg/types"
)

type nullBroadcast struct{}

func (nullBroadcast) Send([]string, types.ServerMessage)   {}
func (nullBroadcast) SendConn(string, types.ServerMessage) {}

type nullRooms struct{ n atomic.Int64 }

func (r *nullRooms) Allocate(mt room.MatchType, p1, p2 string) (room.Info, error) {
	return room.Info{ID: fmt.Sprintf("room-%d", r.n.Add(1)), Type: mt, Player1ID: p1, Player2ID: p2}, nil
}

func (r *nullRooms) Abort(string) (room.Info, bool) { return room.Info{}, false }

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	timers := timer.NewService()
	t.Cleanup(timers.Stop)
	records := store.NewMemory()

	engine := bracket.NewEngine(context.Background(), bracket.Deps{
		Invites:   invite.NewStore(),
		Timers:    timers,
		Rooms:     &nullRooms{},
		Records:   records,
		Broadcast: nullBroadcast{},
		Log:       zap.NewNop(),
		InviteTTL: time.Minute,
	})
	t.Cleanup(engine.Shutdown)

	r := chi.NewRouter()
	r.Post("/tournaments", CreateTournament(engine, records, zap.NewNop()))
	r.Get("/tournaments/{id}", GetTournament(engine))
	r.Get("/healthz", Healthz)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, records
}

func TestCreateTournamentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, body := range map[string]string{
		"bad json":   `{`,
		"three ids":  `{"player_ids":["a","b","c"]}`,
		"duplicates": `{"player_ids":["a","b","c","a"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/tournaments", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCreateAndFetchTournament(t *testing.T) {
	srv, records := newTestServer(t)
	require.NoError(t, records.UpsertPlayer(context.Background(), "a", "Alice"))

	resp, err := http.Post(srv.URL+"/tournaments", "application/json",
		strings.NewReader(`{"player_ids":["a","b","c","d"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	_, ok := records.Tournament(created.ID)
	assert.True(t, ok, "tournament record persisted at creation")

	get, err := http.Get(srv.URL + "/tournaments/" + created.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	var snap types.TournamentPayload
	require.NoError(t, json.NewDecoder(get.Body).Decode(&snap))
	assert.Equal(t, created.ID, snap.ID)
	assert.Equal(t, "a", snap.Semi1.Player1ID)
	assert.Equal(t, "Alice", snap.Semi1.Player1Name)
	assert.Equal(t, "c", snap.Semi2.Player1ID)
}

func TestGetUnknownTournament(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tournaments/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
