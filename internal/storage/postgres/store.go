// Package postgres implements the ActionStore backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/storage"
)

// Store is the PostgreSQL ActionStore implementation.
type Store struct {
	db *sqlx.DB
}

var _ storage.ActionStore = (*Store)(nil)

// Open connects to the database, verifies the connection and applies any
// pending schema migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return New(db), nil
}

// New creates a Store using the provided database handle. The schema is
// assumed to be current.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateAction(ctx context.Context, act action.Action) (action.Action, error) {
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	if act.Status == "" {
		act.Status = action.StatusPending
	}
	now := time.Now().UTC()
	act.CreatedAt = now
	act.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO syncback_actions (id, namespace_id, type, payload, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, act.ID, act.NamespaceID, act.Type, []byte(act.Payload), act.Status, act.Attempts, act.LastError, act.CreatedAt, act.UpdatedAt)
	if err != nil {
		return action.Action{}, err
	}
	return act, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (action.Action, error) {
	var act action.Action
	err := s.db.GetContext(ctx, &act, `
		SELECT id, namespace_id, type, payload, status, attempts, last_error, created_at, updated_at
		FROM syncback_actions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, storage.ErrNotFound
	}
	if err != nil {
		return action.Action{}, err
	}
	return act, nil
}

func (s *Store) ListActions(ctx context.Context, namespaceID string) ([]action.Action, error) {
	query := `
		SELECT id, namespace_id, type, payload, status, attempts, last_error, created_at, updated_at
		FROM syncback_actions`
	args := []any{}
	if namespaceID != "" {
		query += ` WHERE namespace_id = $1`
		args = append(args, namespaceID)
	}
	query += ` ORDER BY created_at`

	acts := make([]action.Action, 0)
	if err := s.db.SelectContext(ctx, &acts, query, args...); err != nil {
		return nil, err
	}
	return acts, nil
}

func (s *Store) ClaimPending(ctx context.Context, limit int) ([]action.Action, error) {
	acts := make([]action.Action, 0)
	err := s.db.SelectContext(ctx, &acts, `
		UPDATE syncback_actions SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM syncback_actions
			WHERE status = $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, namespace_id, type, payload, status, attempts, last_error, created_at, updated_at
	`, action.StatusInFlight, time.Now().UTC(), action.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	return acts, nil
}

func (s *Store) MarkDone(ctx context.Context, id string) error {
	return s.transition(ctx, `
		UPDATE syncback_actions SET status = $1, last_error = '', updated_at = $2 WHERE id = $3
	`, action.StatusDone, time.Now().UTC(), id)
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return s.transition(ctx, `
		UPDATE syncback_actions SET status = $1, attempts = $2, last_error = $3, updated_at = $4 WHERE id = $5
	`, action.StatusFailed, attempts, lastError, time.Now().UTC(), id)
}

func (s *Store) Requeue(ctx context.Context, id string, attempts int, lastError string) error {
	return s.transition(ctx, `
		UPDATE syncback_actions SET status = $1, attempts = $2, last_error = $3, updated_at = $4 WHERE id = $5
	`, action.StatusPending, attempts, lastError, time.Now().UTC(), id)
}

func (s *Store) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE syncback_actions SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`, action.StatusPending, time.Now().UTC(), action.StatusInFlight, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
