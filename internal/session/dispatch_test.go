package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/sesh/internal/api"
)

func newTestDispatcher(t *testing.T, svc *fakeService) (*Dispatcher, *Tracker) {
	t.Helper()
	coord := newTestCoordinator(t, svc)
	tracker, err := NewTracker(newMemKV())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	return NewDispatcher(coord, tracker, svc), tracker
}

func TestDispatcherRunCompletes(t *testing.T) {
	svc := newFakeService()
	d, tracker := newTestDispatcher(t, svc)

	turn, err := d.Run(context.Background(), "what is sqlite", SearchOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if turn.Response.Message == "" {
		t.Error("turn has empty response")
	}

	all := tracker.All()
	if len(all) != 1 {
		t.Fatalf("tracked records = %d, want 1", len(all))
	}
	rec := all[0]
	if rec.Status != StatusCompleted {
		t.Errorf("record status = %q, want %q", rec.Status, StatusCompleted)
	}
	if rec.Query != "what is sqlite" {
		t.Errorf("record query = %q", rec.Query)
	}

	var resp api.SearchResponse
	if err := json.Unmarshal(rec.PartialResults, &resp); err != nil {
		t.Fatalf("partial results not a response: %v", err)
	}
	if resp.Message != turn.Response.Message {
		t.Errorf("stored response = %q, want %q", resp.Message, turn.Response.Message)
	}
}

// TestDispatcherRunFailureMarksFailed: a dispatch failure attaches the error
// message to the record instead of dropping it.
func TestDispatcherRunFailureMarksFailed(t *testing.T) {
	svc := newFakeService()
	svc.searchErr = fmt.Errorf("upstream exploded")
	d, tracker := newTestDispatcher(t, svc)

	if _, err := d.Run(context.Background(), "doomed", SearchOptions{}); err == nil {
		t.Fatal("Run succeeded despite search failure")
	}

	all := tracker.All()
	if len(all) != 1 {
		t.Fatalf("tracked records = %d, want 1", len(all))
	}
	if all[0].Status != StatusFailed {
		t.Errorf("record status = %q, want %q", all[0].Status, StatusFailed)
	}
	if all[0].Error == "" {
		t.Error("failed record carries no error message")
	}
}

// TestDispatcherGroupFailureBlocksSearch: when group resolution fails, no
// record is registered at all — the action is blocked for a retry.
func TestDispatcherGroupFailureBlocksSearch(t *testing.T) {
	svc := newFakeService()
	svc.listErr = fmt.Errorf("offline")
	d, tracker := newTestDispatcher(t, svc)

	if _, err := d.Run(context.Background(), "blocked", SearchOptions{}); err == nil {
		t.Fatal("Run succeeded despite group resolution failure")
	}
	if got := tracker.All(); len(got) != 0 {
		t.Errorf("records registered despite blocked dispatch: %v", got)
	}
}

// TestDispatcherCancelAbsorbsLateCallback: after Cancel, an in-flight
// completion callback for the same id must be dropped.
func TestDispatcherCancelAbsorbsLateCallback(t *testing.T) {
	svc := newFakeService()
	d, tracker := newTestDispatcher(t, svc)

	now := time.Now().UTC()
	if err := tracker.Add(testSearch("s1", StatusProcessing, now)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ok, err := d.Cancel("s1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !ok {
		t.Fatal("Cancel reported no transition")
	}

	// Simulated late network callback.
	applied, err := tracker.UpdateStatus("s1", StatusPatch{Status: statusPtr(StatusCompleted)})
	if err != nil {
		t.Fatalf("late update errored: %v", err)
	}
	if applied {
		t.Error("late callback applied after cancellation")
	}
	rec, _ := tracker.Get("s1")
	if rec.Status != StatusCancelled {
		t.Errorf("record status = %q, want %q", rec.Status, StatusCancelled)
	}
}

// TestDispatcherResumePending reconciles restart leftovers: a pending record
// whose query reached the server settles completed, the rest fail as
// interrupted.
func TestDispatcherResumePending(t *testing.T) {
	svc := newFakeService()
	d, tracker := newTestDispatcher(t, svc)

	// A prior process dispatched both; only "landed" made it to the server.
	start := time.Now().UTC().Add(-time.Minute)
	svc.turns["g1"] = []api.SearchTurn{{
		ID:        "t1",
		Query:     "landed",
		Response:  api.SearchResponse{Message: "done"},
		CreatedAt: start.Add(time.Second),
	}}

	landed := testSearch("s1", StatusProcessing, start)
	landed.Query = "landed"
	lost := testSearch("s2", StatusPending, start)
	lost.Query = "lost"
	tracker.Add(landed)
	tracker.Add(lost)

	settled, err := d.ResumePending(context.Background())
	if err != nil {
		t.Fatalf("ResumePending failed: %v", err)
	}
	if settled != 2 {
		t.Errorf("settled = %d, want 2", settled)
	}

	got1, _ := tracker.Get("s1")
	if got1.Status != StatusCompleted {
		t.Errorf("s1 status = %q, want %q", got1.Status, StatusCompleted)
	}
	got2, _ := tracker.Get("s2")
	if got2.Status != StatusFailed {
		t.Errorf("s2 status = %q, want %q", got2.Status, StatusFailed)
	}
	if got2.Error == "" {
		t.Error("interrupted record carries no error message")
	}
}

func TestDispatcherResumePendingNothingToDo(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(t, svc)

	settled, err := d.ResumePending(context.Background())
	if err != nil {
		t.Fatalf("ResumePending failed: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0", settled)
	}
}

func TestDispatcherHistoryWithoutActiveGroup(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(t, svc)

	turns, err := d.History(context.Background())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("History = %v with no active group, want empty", turns)
	}
}

func TestDispatcherDeleteTurn(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(t, svc)

	turn, err := d.Run(context.Background(), "keep me around", SearchOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := d.DeleteTurn(context.Background(), turn.ID); err != nil {
		t.Fatalf("DeleteTurn failed: %v", err)
	}

	history, err := d.History(context.Background())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history still has %d turns after delete", len(history))
	}
}
