package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/tradesim/internal/model"
)

// DefaultSessionID is the row key of the single shared session.
const DefaultSessionID = "default"

// ConnectPostgres opens a connection pool and checks it with a ping.
func ConnectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	// One session writes at a time; a small pool is plenty.
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping db: %w", err)
	}
	return pool, nil
}

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the snapshot as a JSONB document in one row of
// game_sessions. Decimals are encoded as JSON strings, so no precision is
// lost in the round trip.
type PostgresStore struct {
	db        querier
	sessionID string
}

// NewPostgresStore creates a PostgreSQL-backed store. Pass a *pgxpool.Pool.
func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db, sessionID: DefaultSessionID}
}

// EnsureSchema creates the game_sessions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id         TEXT PRIMARY KEY,
			document   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	var doc string
	err := s.db.QueryRow(ctx,
		`SELECT document::TEXT FROM game_sessions WHERE id = $1`, s.sessionID).
		Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load session %s: %w", s.sessionID, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("store: decode session %s: %w", s.sessionID, err)
	}
	return &snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap *model.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO game_sessions (id, document, updated_at)
		 VALUES ($1, $2::JSONB, now())
		 ON CONFLICT (id) DO UPDATE
		 SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		s.sessionID, string(doc),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", s.sessionID, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM game_sessions WHERE id = $1`, s.sessionID)
	if err != nil {
		return fmt.Errorf("store: clear session %s: %w", s.sessionID, err)
	}
	return nil
}
