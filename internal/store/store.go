// Package store is the optional Postgres audit log of unlock events.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// UnlockEvent is one row of the audit log.
type UnlockEvent struct {
	ID         uuid.UUID
	Label      string
	Distance   float64
	Embedding  types.Embedding
	UnlockedAt time.Time
}

// Store manages the PostgreSQL pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the vector extension and the events table if they don't exist.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS unlock_events (
			id UUID PRIMARY KEY,
			label TEXT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			embedding VECTOR(%d),
			unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS unlock_events_unlocked_at_idx ON unlock_events (unlocked_at DESC);
	`, types.EmbeddingDim)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordUnlock appends one event. Embeddings of the wrong dimension are stored as NULL.
func (s *Store) RecordUnlock(ctx context.Context, ev gate.Event) error {
	var vec *pgvector.Vector
	if len(ev.Embedding) == types.EmbeddingDim {
		v := pgvector.NewVector(toFloat32(ev.Embedding))
		vec = &v
	}
	id := ev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unlock_events (id, label, distance, embedding, unlocked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, ev.Label, ev.Distance, vec, ev.At)
	if err != nil {
		return fmt.Errorf("recording unlock: %w", err)
	}
	return nil
}

// Unlock lets the store be registered on the gate.
func (s *Store) Unlock(ctx context.Context, ev gate.Event) error {
	return s.RecordUnlock(ctx, ev)
}

// RecentUnlocks returns up to limit events, newest first.
func (s *Store) RecentUnlocks(ctx context.Context, limit int) ([]UnlockEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, label, distance, embedding, unlocked_at
		FROM unlock_events
		ORDER BY unlocked_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UnlockEvent
	for rows.Next() {
		var ev UnlockEvent
		var vec *pgvector.Vector
		if err := rows.Scan(&ev.ID, &ev.Label, &ev.Distance, &vec, &ev.UnlockedAt); err != nil {
			return nil, err
		}
		if vec != nil {
			for _, f := range vec.Slice() {
				ev.Embedding = append(ev.Embedding, float64(f))
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Reset drops all application tables.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS unlock_events CASCADE;`)
	return err
}

func toFloat32(v types.Embedding) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
