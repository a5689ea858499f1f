// Package session owns the durable client-side state of the search service:
// the identity of the active conversation group and the set of in-flight
// search operations. The Coordinator is the only component that reads both.
package session

import (
	"encoding/json"
	"time"
)

// Persistence keys. Each store serializes its full snapshot under its own key.
const (
	conversationKey = "conversation-storage"
	searchStateKey  = "search-state-storage"
)

// KV is the persistence port for session snapshots. Writes must be committed
// before Set returns so that a process restart observes the last mutation.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
}

// Status is the lifecycle state of an ActiveSearch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a record in this status accepts no further
// mutation. Late async updates against a terminal record are dropped.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ActiveSearch is the client-tracked record of an in-flight or recently
// finished search request, independent of the group's server-side history.
type ActiveSearch struct {
	ID             string          `json:"id"`
	Query          string          `json:"query"`
	GroupID        string          `json:"group_id"`
	Status         Status          `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CreatedAt      time.Time       `json:"created_at"`
	Progress       float64         `json:"progress,omitempty"`
	PartialResults json.RawMessage `json:"partial_results,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// StatusPatch is a partial update merged into an existing ActiveSearch.
// Nil fields are left untouched.
type StatusPatch struct {
	Status         *Status
	Progress       *float64
	PartialResults json.RawMessage
	Error          *string
}
