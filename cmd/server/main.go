package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pongarena/match-backend/internal/bracket"
	"github.com/pongarena/match-backend/internal/config"
	"github.com/pongarena/match-backend/internal/game"
	"github.com/pongarena/match-backend/internal/gateway"
	"github.com/pongarena/match-backend/internal/httpapi"
	"github.com/pongarena/match-backend/internal/invite"
	"github.com/pongarena/match-backend/internal/matchmaking"
	"github.com/pongarena/match-backend/internal/room"
	"github.com/pongarena/match-backend/internal/store"
	"github.com/pongarena/match-backend/internal/timer"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	var records store.Store
	if cfg.DatabaseURL != "" {
		records, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("open store", zap.Error(err))
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory records")
		records = store.NewMemory()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timers := timer.NewService()
	invites := invite.NewStore()
	queue := matchmaking.NewQueue()
	conns := gateway.NewConns()

	// The stub game engine reports results straight back into the room
	// registry; a real physics subsystem plugs in the same way.
	var rooms *room.Registry
	games := game.NewStubEngine(func(roomID, winnerID string) {
		rooms.ReportResult(roomID, winnerID)
	})
	rooms = room.NewRegistry(games, timers, cfg.ReconnectGrace, log.Named("room"))

	engine := bracket.NewEngine(ctx, bracket.Deps{
		Invites:   invites,
		Timers:    timers,
		Rooms:     rooms,
		Records:   records,
		Broadcast: conns,
		Log:       log.Named("bracket"),
		InviteTTL: cfg.InviteTTL,
	})

	gw := gateway.New(log.Named("gateway"), gateway.Config{
		InviteTTL:      cfg.InviteTTL,
		ReconnectGrace: cfg.ReconnectGrace,
		AllowedOrigins: cfg.AllowedOrigins,
	}, conns, invites, timers, rooms, engine, queue, records, gateway.QueryAuth)

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: httpapi.SetupRoutes(engine, gw, records, log.Named("http")),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		engine.Shutdown()
		timers.Stop()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
