package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pongarena/match-backend/pkg/types"
)

var errMissingIdentity = errors.New("missing player identity")

// Handler upgrades the request to a websocket and runs the connection's
// read loop. One writer goroutine drains the connection's outbox so
// broadcasts never block component goroutines.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, name, err := g.auth(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.cfg.AllowedOrigins,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		cl := g.conns.Add(playerID, connID)
		g.log.Info("connection opened",
			zap.String("player", playerID),
			zap.String("conn", connID))

		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for msg := range cl.outbox {
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			// Outbox closed: detached (superseded or slow). Shut the
			// socket so the read loop unblocks.
			conn.Close(websocket.StatusPolicyViolation, "detached")
		}()

		g.connected(r.Context(), playerID, name, connID)
		defer g.disconnected(playerID, connID)

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				g.reject(connID, "bad json")
				continue
			}
			g.route(playerID, name, connID, cm)
		}
	}
}
