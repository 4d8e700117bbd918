// Package store persists player and tournament records. The bracket reads
// player display names at formation and writes the outcome at completion;
// nothing in the hot path touches the database.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type PlayerRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:64;not null"`
	CreatedAt   time.Time
}

type TournamentRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	WinnerID    string `gorm:"size:64"`
	Cancelled   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Store is what the orchestrator needs from persistence.
type Store interface {
	UpsertPlayer(ctx context.Context, id, displayName string) error
	PlayersByID(ctx context.Context, ids []string) (map[string]string, error)
	CreateTournament(ctx context.Context, id string) error
	SaveTournamentResult(ctx context.Context, id, winnerID string, cancelled bool) error
}

type Gorm struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the two record tables.
func Open(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&PlayerRecord{}, &TournamentRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) UpsertPlayer(ctx context.Context, id, displayName string) error {
	rec := PlayerRecord{ID: id, DisplayName: displayName}
	return g.db.WithContext(ctx).Save(&rec).Error
}

func (g *Gorm) PlayersByID(ctx context.Context, ids []string) (map[string]string, error) {
	var recs []PlayerRecord
	if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.DisplayName
	}
	return out, nil
}

func (g *Gorm) CreateTournament(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Create(&TournamentRecord{ID: id}).Error
}

func (g *Gorm) SaveTournamentResult(ctx context.Context, id, winnerID string, cancelled bool) error {
	now := time.Now()
	return g.db.WithContext(ctx).Model(&TournamentRecord{ID: id}).
		Updates(map[string]any{
			"winner_id":    winnerID,
			"cancelled":    cancelled,
			"completed_at": &now,
		}).Error
}

// Memory backs tests and database-less development runs.
type Memory struct {
	mu          sync.Mutex
	players     map[string]string
	tournaments map[string]TournamentRecord
}

func NewMemory() *Memory {
	return &Memory{
		players:     make(map[string]string),
		tournaments: make(map[string]TournamentRecord),
	}
}

func (m *Memory) UpsertPlayer(_ context.Context, id, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[id] = displayName
	return nil
}

func (m *Memory) PlayersByID(_ context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := m.players[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (m *Memory) CreateTournament(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tournaments[id] = TournamentRecord{ID: id, CreatedAt: time.Now()}
	return nil
}

func (m *Memory) SaveTournamentResult(_ context.Context, id, winnerID string, cancelled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.tournaments[id]
	rec.ID = id
	rec.WinnerID = winnerID
	rec.Cancelled = cancelled
	now := time.Now()
	rec.CompletedAt = &now
	m.tournaments[id] = rec
	return nil
}

// Tournament returns the stored record. Test hook.
func (m *Memory) Tournament(id string) (TournamentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tournaments[id]
	return rec, ok
}
