package session

import (
	"fmt"
	"sync"
	"testing"
)

// memKV is an in-memory KV used across the session tests. failSet makes every
// Set fail to exercise write-through rollback.
type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet bool
	sets    int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return fmt.Errorf("kv write refused")
	}
	m.sets++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func TestGroupStoreEmptyAtFirstRun(t *testing.T) {
	g, err := NewGroupStore(newMemKV())
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}

	if _, ok := g.ActiveGroupID(); ok {
		t.Error("fresh store has an active group id")
	}
	if g.HasActiveConversation() {
		t.Error("fresh store reports an active conversation")
	}
}

// TestGroupStoreInvariant checks hasActiveConversation == (activeGroupID set)
// through every reachable transition.
func TestGroupStoreInvariant(t *testing.T) {
	g, err := NewGroupStore(newMemKV())
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}

	checkInvariant := func(step string) {
		t.Helper()
		_, hasID := g.ActiveGroupID()
		if g.HasActiveConversation() != hasID {
			t.Errorf("%s: HasActiveConversation = %v but id presence = %v", step, g.HasActiveConversation(), hasID)
		}
	}

	checkInvariant("initial")

	if err := g.SetActive("g1"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	checkInvariant("after SetActive")

	if err := g.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	checkInvariant("after Clear")
}

func TestGroupStoreSetActiveRequiresID(t *testing.T) {
	g, err := NewGroupStore(newMemKV())
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}
	if err := g.SetActive(""); err == nil {
		t.Error("SetActive(\"\") succeeded, want error")
	}
}

// TestGroupStorePersistsAcrossRestart simulates a process restart by
// constructing a second store over the same KV.
func TestGroupStorePersistsAcrossRestart(t *testing.T) {
	kv := newMemKV()

	g1, err := NewGroupStore(kv)
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}
	if err := g1.SetActive("g42"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	g2, err := NewGroupStore(kv)
	if err != nil {
		t.Fatalf("second NewGroupStore failed: %v", err)
	}

	id, ok := g2.ActiveGroupID()
	if !ok || id != "g42" {
		t.Errorf("ActiveGroupID after restart = (%q, %v), want (%q, true)", id, ok, "g42")
	}
	if !g2.HasActiveConversation() {
		t.Error("HasActiveConversation = false after restart")
	}
}

func TestGroupStoreCorruptedSnapshotResets(t *testing.T) {
	kv := newMemKV()
	kv.data[conversationKey] = []byte("{not json")

	g, err := NewGroupStore(kv)
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}
	if _, ok := g.ActiveGroupID(); ok {
		t.Error("corrupted snapshot produced an active group")
	}
}

// TestGroupStoreInconsistentSnapshotResets loads a snapshot whose flag
// disagrees with id presence; the store must fall back to the empty state
// instead of propagating the violation.
func TestGroupStoreInconsistentSnapshotResets(t *testing.T) {
	kv := newMemKV()
	kv.data[conversationKey] = []byte(`{"active_group_id":"","has_active_conversation":true}`)

	g, err := NewGroupStore(kv)
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}
	if g.HasActiveConversation() {
		t.Error("inconsistent snapshot kept has_active_conversation = true")
	}
	if _, ok := g.ActiveGroupID(); ok {
		t.Error("inconsistent snapshot kept an active group id")
	}
}

// TestGroupStorePersistFailureRollsBack verifies a failed write-through does
// not leave the in-memory state ahead of the persisted one.
func TestGroupStorePersistFailureRollsBack(t *testing.T) {
	kv := newMemKV()
	g, err := NewGroupStore(kv)
	if err != nil {
		t.Fatalf("NewGroupStore failed: %v", err)
	}
	if err := g.SetActive("g1"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	kv.failSet = true
	if err := g.SetActive("g2"); err == nil {
		t.Fatal("SetActive succeeded despite persistence failure")
	}

	id, _ := g.ActiveGroupID()
	if id != "g1" {
		t.Errorf("ActiveGroupID = %q after failed write, want %q", id, "g1")
	}

	if err := g.Clear(); err == nil {
		t.Fatal("Clear succeeded despite persistence failure")
	}
	if !g.HasActiveConversation() {
		t.Error("failed Clear still dropped the active conversation")
	}
}
