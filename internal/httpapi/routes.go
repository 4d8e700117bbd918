package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/internal/bracket"
	"github.com/pongarena/match-backend/internal/gateway"
	"github.com/pongarena/match-backend/internal/store"
)

func SetupRoutes(engine *bracket.Engine, gw *gateway.Gateway, records store.Store, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/tournaments", CreateTournament(engine, records, log))
	r.Get("/tournaments/{id}", GetTournament(engine))
	r.Get("/healthz", Healthz)
	r.Get("/ws", gw.Handler())
	return r
}
