package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// conversationState is the persisted snapshot of the active conversation.
// Invariant: HasActiveConversation == (ActiveGroupID != "").
type conversationState struct {
	ActiveGroupID         string `json:"active_group_id"`
	HasActiveConversation bool   `json:"has_active_conversation"`
}

func (s conversationState) consistent() bool {
	return s.HasActiveConversation == (s.ActiveGroupID != "")
}

// GroupStore owns the identity of the currently-active conversation group.
// Every mutation is written through to the persistence port before it returns.
type GroupStore struct {
	mu     sync.Mutex
	kv     KV
	state  conversationState
	logger *slog.Logger
}

// NewGroupStore loads the persisted conversation state from kv. A snapshot
// that cannot be parsed, or one that violates the state invariant, is reset
// to the empty state rather than propagated.
func NewGroupStore(kv KV) (*GroupStore, error) {
	g := &GroupStore{kv: kv, logger: slog.Default()}

	data, ok, err := kv.Get(conversationKey)
	if err != nil {
		return nil, fmt.Errorf("loading conversation state: %w", err)
	}
	if !ok {
		return g, nil
	}

	var st conversationState
	if err := json.Unmarshal(data, &st); err != nil {
		g.logger.Warn("conversation state corrupted, resetting", "error", err)
		return g, nil
	}
	if !st.consistent() {
		g.logger.Warn("conversation state inconsistent, resetting",
			"active_group_id", st.ActiveGroupID,
			"has_active_conversation", st.HasActiveConversation)
		return g, nil
	}

	g.state = st
	return g, nil
}

// SetActive commits groupID as the active conversation group. The id is not
// validated against the server; that is the caller's responsibility.
func (g *GroupStore) SetActive(groupID string) error {
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.state
	g.state = conversationState{ActiveGroupID: groupID, HasActiveConversation: true}
	if err := g.persistLocked(); err != nil {
		g.state = prev
		return err
	}
	return nil
}

// Clear resets the store to the empty state. Must be called when the active
// group is deleted server-side; the store has no subscription to deletion
// events.
func (g *GroupStore) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.state
	g.state = conversationState{}
	if err := g.persistLocked(); err != nil {
		g.state = prev
		return err
	}
	return nil
}

// ActiveGroupID returns the committed active group id, if any.
func (g *GroupStore) ActiveGroupID() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.ActiveGroupID, g.state.ActiveGroupID != ""
}

// HasActiveConversation reports whether an active group is committed.
func (g *GroupStore) HasActiveConversation() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.HasActiveConversation
}

func (g *GroupStore) persistLocked() error {
	data, err := json.Marshal(g.state)
	if err != nil {
		return fmt.Errorf("marshaling conversation state: %w", err)
	}
	if err := g.kv.Set(conversationKey, data); err != nil {
		return fmt.Errorf("persisting conversation state: %w", err)
	}
	return nil
}
