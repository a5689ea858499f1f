package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sesh/internal/api"
)

// SearchAPI abstracts the search endpoints of the service client.
type SearchAPI interface {
	Search(ctx context.Context, req api.SearchRequest) (api.SearchTurn, error)
	ListTurns(ctx context.Context, groupID string) ([]api.SearchTurn, error)
	DeleteTurn(ctx context.Context, id, groupID string) error
}

// SearchOptions carries the optional fields of a search dispatch.
type SearchOptions struct {
	ModelID      string
	Conversation string
	URLs         []string
}

// Dispatcher drives a search end to end: resolve the active group, register
// the lifecycle record, call the service, and settle the record.
type Dispatcher struct {
	coord   *Coordinator
	tracker *Tracker
	client  SearchAPI
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given coordinator, tracker and
// client.
func NewDispatcher(coord *Coordinator, tracker *Tracker, client SearchAPI) *Dispatcher {
	return &Dispatcher{
		coord:   coord,
		tracker: tracker,
		client:  client,
		logger:  slog.Default(),
	}
}

// Run dispatches one search. A group-resolution failure blocks the search
// before any record is registered. A dispatch failure marks the record failed
// with the error message attached; it is never silently dropped.
func (d *Dispatcher) Run(ctx context.Context, query string, opts SearchOptions) (api.SearchTurn, error) {
	if query == "" {
		return api.SearchTurn{}, fmt.Errorf("query is required")
	}

	groupID, err := d.coord.EnsureActiveGroup(ctx)
	if err != nil {
		return api.SearchTurn{}, fmt.Errorf("resolving active group: %w", err)
	}

	now := time.Now().UTC()
	rec := ActiveSearch{
		ID:        uuid.New().String(),
		Query:     query,
		GroupID:   groupID,
		Status:    StatusPending,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := d.tracker.Add(rec); err != nil {
		return api.SearchTurn{}, fmt.Errorf("registering search: %w", err)
	}

	d.setStatus(rec.ID, StatusPatch{Status: statusPtr(StatusProcessing)})

	turn, err := d.client.Search(ctx, api.SearchRequest{
		Message:      query,
		GroupID:      groupID,
		Conversation: opts.Conversation,
		URLs:         opts.URLs,
		ModelID:      opts.ModelID,
	})
	if err != nil {
		msg := err.Error()
		d.setStatus(rec.ID, StatusPatch{Status: statusPtr(StatusFailed), Error: &msg})
		return api.SearchTurn{}, fmt.Errorf("dispatching search: %w", err)
	}

	d.settle(rec.ID, turn)
	return turn, nil
}

// Cancel marks a search cancelled. In-flight callbacks arriving afterwards
// are absorbed by the tracker's terminal guard. Reports whether the record
// actually transitioned.
func (d *Dispatcher) Cancel(id string) (bool, error) {
	return d.tracker.UpdateStatus(id, StatusPatch{Status: statusPtr(StatusCancelled)})
}

// History returns the active group's prior turns, or an empty slice when no
// conversation is active.
func (d *Dispatcher) History(ctx context.Context) ([]api.SearchTurn, error) {
	groupID, ok := d.coord.Store().ActiveGroupID()
	if !ok {
		return []api.SearchTurn{}, nil
	}
	return d.client.ListTurns(ctx, groupID)
}

// DeleteTurn removes a turn from the active group's server-side history and
// drops any local record tracking it.
func (d *Dispatcher) DeleteTurn(ctx context.Context, id string) error {
	groupID, ok := d.coord.Store().ActiveGroupID()
	if !ok {
		return fmt.Errorf("no active conversation")
	}
	if err := d.client.DeleteTurn(ctx, id, groupID); err != nil {
		return err
	}
	return d.tracker.Remove(id)
}

// ResumePending reconciles searches left pending or processing by an earlier
// process against the server's per-group history. A record whose query shows
// up as a turn created at or after its start is settled as completed;
// anything else is failed as interrupted. Returns the number of records
// settled either way.
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	pending := d.tracker.Pending()
	if len(pending) == 0 {
		return 0, nil
	}

	// One fetch per distinct group, bounded.
	groupIDs := make(map[string]struct{})
	for _, rec := range pending {
		groupIDs[rec.GroupID] = struct{}{}
	}

	var mu sync.Mutex
	turnsByGroup := make(map[string][]api.SearchTurn, len(groupIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for groupID := range groupIDs {
		g.Go(func() error {
			turns, err := d.client.ListTurns(gctx, groupID)
			if err != nil {
				return fmt.Errorf("listing turns for group %s: %w", groupID, err)
			}
			mu.Lock()
			turnsByGroup[groupID] = turns
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	settled := 0
	for _, rec := range pending {
		if turn, ok := matchTurn(rec, turnsByGroup[rec.GroupID]); ok {
			d.settle(rec.ID, turn)
		} else {
			msg := "search interrupted before completion"
			d.setStatus(rec.ID, StatusPatch{Status: statusPtr(StatusFailed), Error: &msg})
		}
		settled++
	}
	return settled, nil
}

// settle marks a record completed and attaches the server's response.
func (d *Dispatcher) settle(id string, turn api.SearchTurn) {
	patch := StatusPatch{Status: statusPtr(StatusCompleted)}
	if data, err := json.Marshal(turn.Response); err == nil {
		patch.PartialResults = data
	}
	d.setStatus(id, patch)
}

func (d *Dispatcher) setStatus(id string, patch StatusPatch) {
	if _, err := d.tracker.UpdateStatus(id, patch); err != nil {
		d.logger.Warn("persisting search status failed", "search_id", id, "error", err)
	}
}

func matchTurn(rec ActiveSearch, turns []api.SearchTurn) (api.SearchTurn, bool) {
	for _, turn := range turns {
		if turn.Query == rec.Query && !turn.CreatedAt.Before(rec.StartedAt) {
			return turn, true
		}
	}
	return api.SearchTurn{}, false
}

func statusPtr(s Status) *Status {
	return &s
}
