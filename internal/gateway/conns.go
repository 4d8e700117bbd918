package gateway

import (
	"sync"

	"github.com/pongarena/match-backend/pkg/types"
)

// client is one live socket's server-side mailbox. The ws writer goroutine
// drains outbox; closing outbox tells the writer to shut the socket.
type client struct {
	connID   string
	playerID string
	outbox   chan types.ServerMessage
	closed   bool // outbox closed; guarded by Conns.mu
}

// Conns tracks live connections per player and implements addressed
// broadcast: messages go to the named players' sockets only.
type Conns struct {
	mu       sync.Mutex
	byPlayer map[string]map[string]*client
	byConn   map[string]*client
	latest   map[string]string // playerID -> most recently added connID
}

func NewConns() *Conns {
	return &Conns{
		byPlayer: make(map[string]map[string]*client),
		byConn:   make(map[string]*client),
		latest:   make(map[string]string),
	}
}

func (c *Conns) Add(playerID, connID string) *client {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := &client{
		connID:   connID,
		playerID: playerID,
		outbox:   make(chan types.ServerMessage, 16),
	}
	if c.byPlayer[playerID] == nil {
		c.byPlayer[playerID] = make(map[string]*client)
	}
	c.byPlayer[playerID][connID] = cl
	c.byConn[connID] = cl
	c.latest[playerID] = connID
	return cl
}

// Latest returns the player's most recently opened connection.
func (c *Conns) Latest(playerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	connID, ok := c.latest[playerID]
	return connID, ok
}

// Remove drops the connection and reports how many connections the player
// still has. Idempotent.
func (c *Conns) Remove(connID string) (playerID string, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.byConn[connID]
	if !ok {
		return "", 0
	}
	delete(c.byConn, connID)
	delete(c.byPlayer[cl.playerID], connID)
	c.fixLatest(cl.playerID, connID)
	remaining = len(c.byPlayer[cl.playerID])
	if remaining == 0 {
		delete(c.byPlayer, cl.playerID)
	}
	if !cl.closed {
		cl.closed = true
		close(cl.outbox)
	}
	return cl.playerID, remaining
}

// Send delivers msg to every live connection of the target players. A
// client whose outbox is full has it closed so the writer shuts the
// socket; the connection stays registered until its read loop ends, so
// the ordinary disconnect cleanup (room grace, withdrawal) still runs.
func (c *Conns) Send(playerIDs []string, msg types.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pid := range playerIDs {
		for _, cl := range c.byPlayer[pid] {
			if cl.closed {
				continue
			}
			select {
			case cl.outbox <- msg:
			default:
				cl.closed = true
				close(cl.outbox)
			}
		}
	}
}

// SendConn delivers msg to one connection only.
func (c *Conns) SendConn(connID string, msg types.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.byConn[connID]
	if !ok || cl.closed {
		return
	}
	select {
	case cl.outbox <- msg:
	default:
	}
}

// Drop detaches a superseded connection entirely: it is removed from the
// registry so its read loop ending performs no further cleanup.
func (c *Conns) Drop(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.byConn[connID]
	if !ok {
		return
	}
	delete(c.byConn, connID)
	delete(c.byPlayer[cl.playerID], connID)
	c.fixLatest(cl.playerID, connID)
	if len(c.byPlayer[cl.playerID]) == 0 {
		delete(c.byPlayer, cl.playerID)
	}
	if !cl.closed {
		cl.closed = true
		close(cl.outbox)
	}
}

// fixLatest repoints latest after connID went away. Caller holds the lock.
func (c *Conns) fixLatest(playerID, connID string) {
	if c.latest[playerID] != connID {
		return
	}
	delete(c.latest, playerID)
	for id := range c.byPlayer[playerID] {
		c.latest[playerID] = id
		break
	}
}
