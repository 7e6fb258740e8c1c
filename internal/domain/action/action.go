// Package action defines the queued work item the syncback worker replays
// against provider backends.
package action

import (
	"encoding/json"
	"time"
)

// Status tracks an action through the replay pipeline.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// Known action types. The worker treats the payload as opaque; the type is
// used for routing and metrics only.
const (
	TypeArchive     = "archive"
	TypeUnarchive   = "unarchive"
	TypeStar        = "star"
	TypeUnstar      = "unstar"
	TypeMarkRead    = "mark_read"
	TypeMarkUnread  = "mark_unread"
	TypeSaveDraft   = "save_draft"
	TypeDeleteDraft = "delete_draft"
	TypeSend        = "send"
)

// Action is a single queued unit of syncback work, scoped to a namespace.
type Action struct {
	ID          string          `db:"id" json:"id"`
	NamespaceID string          `db:"namespace_id" json:"namespace_id"`
	Type        string          `db:"type" json:"type"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status      Status          `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the action has left the replay pipeline.
func (a Action) Terminal() bool {
	return a.Status == StatusDone || a.Status == StatusFailed
}
