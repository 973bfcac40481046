package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is a HandleStore on Postgres, for gateway deployments where
// clients must survive process restarts.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection, and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection. The caller is responsible
// for migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Save(ctx context.Context, sessionID, handle string) error {
	if sessionID == "" || handle == "" {
		return errors.New("store: session id and handle are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_handles (session_id, handle, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id)
		DO UPDATE SET handle = EXCLUDED.handle, updated_at = now()
	`, sessionID, handle)
	if err != nil {
		return fmt.Errorf("store: save handle: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, sessionID string) (HandleRecord, error) {
	var rec HandleRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, handle, updated_at
		FROM session_handles
		WHERE session_id = $1
	`, sessionID).Scan(&rec.SessionID, &rec.Handle, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HandleRecord{}, ErrNotFound
	}
	if err != nil {
		return HandleRecord{}, fmt.Errorf("store: load handle: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_handles WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete handle: %w", err)
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_handles WHERE updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune handles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
