package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Tracker owns the mapping from search id to its lifecycle record. The full
// map, terminal records included, is persisted on every mutation and survives
// process restarts.
//
// All reads return point-in-time snapshot copies; callers must re-query after
// a mutation to observe changes.
type Tracker struct {
	mu       sync.Mutex
	kv       KV
	searches map[string]ActiveSearch
	logger   *slog.Logger
}

// NewTracker loads the persisted search map from kv. A snapshot that cannot
// be parsed is reset to empty rather than propagated.
func NewTracker(kv KV) (*Tracker, error) {
	t := &Tracker{
		kv:       kv,
		searches: make(map[string]ActiveSearch),
		logger:   slog.Default(),
	}

	data, ok, err := kv.Get(searchStateKey)
	if err != nil {
		return nil, fmt.Errorf("loading search state: %w", err)
	}
	if !ok {
		return t, nil
	}

	var snapshot map[string]ActiveSearch
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.logger.Warn("search state corrupted, resetting", "error", err)
		return t, nil
	}
	if snapshot != nil {
		t.searches = snapshot
	}
	return t, nil
}

// Add inserts a record under its id. An existing record with the same id is
// silently overwritten (upsert semantics).
func (t *Tracker) Add(rec ActiveSearch) error {
	if rec.ID == "" {
		return fmt.Errorf("search id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, existed := t.searches[rec.ID]
	t.searches[rec.ID] = rec
	if err := t.persistLocked(); err != nil {
		if existed {
			t.searches[rec.ID] = prev
		} else {
			delete(t.searches, rec.ID)
		}
		return err
	}
	return nil
}

// UpdateStatus merges patch into the record stored under id. It reports a
// soft miss (false, nil) in two expected situations: the id is no longer
// present (a status event raced an earlier purge), or the record is already
// terminal (a late callback after cancellation or completion). Both are
// absorbing states, logged at debug level only.
func (t *Tracker) UpdateStatus(id string, patch StatusPatch) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.searches[id]
	if !ok {
		t.logger.Debug("status update for unknown search dropped", "search_id", id)
		return false, nil
	}
	if cur.Status.Terminal() {
		t.logger.Debug("status update for terminal search dropped",
			"search_id", id, "status", cur.Status)
		return false, nil
	}

	next := cur
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Progress != nil {
		next.Progress = *patch.Progress
	}
	if patch.PartialResults != nil {
		next.PartialResults = patch.PartialResults
	}
	if patch.Error != nil {
		next.Error = *patch.Error
	}

	t.searches[id] = next
	if err := t.persistLocked(); err != nil {
		t.searches[id] = cur
		return false, err
	}
	return true, nil
}

// Remove deletes the record under id. Removing an absent id is a no-op.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.searches[id]
	if !ok {
		return nil
	}

	delete(t.searches, id)
	if err := t.persistLocked(); err != nil {
		t.searches[id] = prev
		return err
	}
	return nil
}

// Get returns a copy of the record under id.
func (t *Tracker) Get(id string) (ActiveSearch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.searches[id]
	return rec, ok
}

// Pending returns all records still awaiting a result (pending or
// processing), most recently started first. Used after a reload to decide
// which searches need reconciliation.
func (t *Tracker) Pending() []ActiveSearch {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ActiveSearch
	for _, rec := range t.searches {
		if rec.Status == StatusPending || rec.Status == StatusProcessing {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out
}

// All returns every tracked record, most recently started first.
func (t *Tracker) All() []ActiveSearch {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ActiveSearch, 0, len(t.searches))
	for _, rec := range t.searches {
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out
}

// ClearCompleted removes every record whose status is completed or failed and
// returns the number removed. Cancelled records are deliberately left in
// place; see the package design notes before widening this sweep.
func (t *Tracker) ClearCompleted() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []ActiveSearch
	for id, rec := range t.searches {
		if rec.Status == StatusCompleted || rec.Status == StatusFailed {
			removed = append(removed, rec)
			delete(t.searches, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := t.persistLocked(); err != nil {
		for _, rec := range removed {
			t.searches[rec.ID] = rec
		}
		return 0, err
	}
	return len(removed), nil
}

func (t *Tracker) persistLocked() error {
	data, err := json.Marshal(t.searches)
	if err != nil {
		return fmt.Errorf("marshaling search state: %w", err)
	}
	if err := t.kv.Set(searchStateKey, data); err != nil {
		return fmt.Errorf("persisting search state: %w", err)
	}
	return nil
}

func sortNewestFirst(recs []ActiveSearch) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
