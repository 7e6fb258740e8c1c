// Package storage declares the persistence interfaces consumed by the API
// and the syncback worker.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openinbox/inboxd/internal/domain/action"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ActionStore persists queued syncback actions.
type ActionStore interface {
	CreateAction(ctx context.Context, act action.Action) (action.Action, error)
	GetAction(ctx context.Context, id string) (action.Action, error)
	ListActions(ctx context.Context, namespaceID string) ([]action.Action, error)

	// ClaimPending atomically moves up to limit pending actions to
	// in_flight and returns them, oldest first.
	ClaimPending(ctx context.Context, limit int) ([]action.Action, error)

	// MarkDone, MarkFailed and Requeue record a replay outcome. Requeue
	// returns the action to pending with its attempt count preserved.
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
	Requeue(ctx context.Context, id string, attempts int, lastError string) error

	// RequeueStuck returns to pending any action left in_flight longer
	// than the cutoff, reporting how many were recovered.
	RequeueStuck(ctx context.Context, olderThan time.Time) (int, error)
}
