// Package memory provides an in-memory ActionStore. It is safe for
// concurrent use and is primarily intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/storage"
)

// Store is the in-memory ActionStore implementation.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	actions map[string]action.Action
}

var _ storage.ActionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:  1,
		actions: make(map[string]action.Action),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) CreateAction(_ context.Context, act action.Action) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if act.ID == "" {
		act.ID = s.nextIDLocked()
	} else if _, exists := s.actions[act.ID]; exists {
		return action.Action{}, fmt.Errorf("action %s already exists", act.ID)
	}
	now := time.Now().UTC()
	act.CreatedAt = now
	act.UpdatedAt = now
	if act.Status == "" {
		act.Status = action.StatusPending
	}
	s.actions[act.ID] = act
	return act, nil
}

func (s *Store) GetAction(_ context.Context, id string) (action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, ok := s.actions[id]
	if !ok {
		return action.Action{}, storage.ErrNotFound
	}
	return act, nil
}

func (s *Store) ListActions(_ context.Context, namespaceID string) ([]action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]action.Action, 0)
	for _, act := range s.actions {
		if namespaceID == "" || act.NamespaceID == namespaceID {
			out = append(out, act)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ClaimPending(_ context.Context, limit int) ([]action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]action.Action, 0)
	for _, act := range s.actions {
		if act.Status == action.StatusPending {
			pending = append(pending, act)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	for i, act := range pending {
		act.Status = action.StatusInFlight
		act.UpdatedAt = now
		s.actions[act.ID] = act
		pending[i] = act
	}
	return pending, nil
}

func (s *Store) MarkDone(_ context.Context, id string) error {
	return s.transition(id, func(act *action.Action) {
		act.Status = action.StatusDone
		act.LastError = ""
	})
}

func (s *Store) MarkFailed(_ context.Context, id string, attempts int, lastError string) error {
	return s.transition(id, func(act *action.Action) {
		act.Status = action.StatusFailed
		act.Attempts = attempts
		act.LastError = lastError
	})
}

func (s *Store) Requeue(_ context.Context, id string, attempts int, lastError string) error {
	return s.transition(id, func(act *action.Action) {
		act.Status = action.StatusPending
		act.Attempts = attempts
		act.LastError = lastError
	})
}

func (s *Store) RequeueStuck(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for id, act := range s.actions {
		if act.Status == action.StatusInFlight && act.UpdatedAt.Before(olderThan) {
			act.Status = action.StatusPending
			act.UpdatedAt = time.Now().UTC()
			s.actions[id] = act
			recovered++
		}
	}
	return recovered, nil
}

func (s *Store) transition(id string, apply func(*action.Action)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, ok := s.actions[id]
	if !ok {
		return storage.ErrNotFound
	}
	apply(&act)
	act.UpdatedAt = time.Now().UTC()
	s.actions[id] = act
	return nil
}
