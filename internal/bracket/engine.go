package bracket

import (
	"context"
)

type engineMsg interface{ isEngineMsg() }

type createTournament struct {
	ID      string
	Players [4]Player
	Reply   chan *Tournament
}

type getTournament struct {
	ID    string
	Reply chan *Tournament
}

type getByPlayer struct {
	PlayerID string
	Reply    chan []*Tournament
}

type removeTournament struct{ ID string }

type shutdownEngine struct{}

func (createTournament) isEngineMsg() {}
func (getTournament) isEngineMsg()    {}
func (getByPlayer) isEngineMsg()      {}
func (removeTournament) isEngineMsg() {}
func (shutdownEngine) isEngineMsg()   {}

// Engine is the tournament registry actor. It owns the id -> Tournament
// map; each tournament runs its own loop, so work for different scopes
// proceeds concurrently.
type Engine struct {
	inbox       chan engineMsg
	tournaments map[string]*Tournament
	deps        Deps
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewEngine(parent context.Context, deps Deps) *Engine {
	ctx, cancel := context.WithCancel(parent)
	e := &Engine{
		inbox:       make(chan engineMsg, 64),
		tournaments: make(map[string]*Tournament),
		deps:        deps,
		ctx:         ctx,
		cancel:      cancel,
	}
	// Terminal tournaments deregister themselves.
	user := deps.OnFinished
	e.deps.OnFinished = func(id string) {
		e.Remove(id)
		if user != nil {
			user(id)
		}
	}
	go e.loop()
	return e
}

// Create starts a tournament for the four players, or returns the
// existing one for the id.
func (e *Engine) Create(id string, players [4]Player) *Tournament {
	reply := make(chan *Tournament, 1)
	select {
	case e.inbox <- createTournament{ID: id, Players: players, Reply: reply}:
		return <-reply
	case <-e.ctx.Done():
		return nil
	}
}

// Get returns the live tournament for id, or nil.
func (e *Engine) Get(id string) *Tournament {
	reply := make(chan *Tournament, 1)
	select {
	case e.inbox <- getTournament{ID: id, Reply: reply}:
		return <-reply
	case <-e.ctx.Done():
		return nil
	}
}

// ForPlayer returns every live tournament the player participates in.
func (e *Engine) ForPlayer(playerID string) []*Tournament {
	reply := make(chan []*Tournament, 1)
	select {
	case e.inbox <- getByPlayer{PlayerID: playerID, Reply: reply}:
		return <-reply
	case <-e.ctx.Done():
		return nil
	}
}

// Remove drops the registry entry. The tournament's own goroutine is left
// to finish whatever it is doing.
func (e *Engine) Remove(id string) {
	select {
	case e.inbox <- removeTournament{ID: id}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) Shutdown() {
	select {
	case e.inbox <- shutdownEngine{}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) loop() {
	for {
		select {
		case <-e.ctx.Done():
			return

		case m := <-e.inbox:
			switch m := m.(type) {
			case createTournament:
				if t := e.tournaments[m.ID]; t != nil {
					m.Reply <- t
					break
				}
				t := NewTournament(e.ctx, m.ID, m.Players, e.deps)
				e.tournaments[m.ID] = t
				m.Reply <- t

			case getTournament:
				m.Reply <- e.tournaments[m.ID] // may be nil

			case getByPlayer:
				var out []*Tournament
				for _, t := range e.tournaments {
					if t.HasPlayer(m.PlayerID) {
						out = append(out, t)
					}
				}
				m.Reply <- out

			case removeTournament:
				delete(e.tournaments, m.ID)

			case shutdownEngine:
				for _, t := range e.tournaments {
					t.Shutdown()
				}
				clear(e.tournaments)
				e.cancel()
			}
		}
	}
}
