package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/sesh/internal/api"
)

const resolveTimeout = 30 * time.Second

// GroupAPI abstracts the group endpoints of the service client.
type GroupAPI interface {
	CreateGroup(ctx context.Context, name string) (api.Group, error)
	ListGroups(ctx context.Context) ([]api.Group, error)
	DeleteGroup(ctx context.Context, id string) error
}

// Coordinator guarantees the client always has exactly one active group to
// attach new searches to, created lazily and without duplication.
//
// Concurrent resolutions collapse into a single flight: the first caller
// performs the list/create sequence and every overlapping caller shares its
// result, so N simultaneous first searches create at most one server-side
// group.
type Coordinator struct {
	store  *GroupStore
	client GroupAPI
	flight singleflight.Group
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator over the given store and client.
func NewCoordinator(store *GroupStore, client GroupAPI) *Coordinator {
	return &Coordinator{
		store:  store,
		client: client,
		logger: slog.Default(),
	}
}

// Store exposes the underlying GroupStore for read access and explicit clears.
func (c *Coordinator) Store() *GroupStore {
	return c.store
}

// EnsureActiveGroup returns the id of the active conversation group, resolving
// or creating one if none is committed yet.
//
// Fast path: a committed active id is returned with zero network calls.
// Otherwise the resolution runs under a single-flight guard: refresh the
// server's group list, adopt the newest group if one exists, and only then
// create a fresh group. On failure nothing is committed and the error is
// returned for the caller's retry affordance.
//
// A caller whose context ends while the shared flight is still running is
// detached with ctx.Err(); the flight itself continues so the other callers
// (and the store) still get the resolution.
func (c *Coordinator) EnsureActiveGroup(ctx context.Context) (string, error) {
	if id, ok := c.store.ActiveGroupID(); ok {
		return id, nil
	}

	ch := c.flight.DoChan("group-resolution", func() (any, error) {
		// Bound the flight with its own timeout, detached from any single
		// caller's context so one cancellation cannot abort the shared work.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return c.resolve(fctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) resolve(ctx context.Context) (string, error) {
	// Re-check under the flight: a resolution that finished between the fast
	// path and the flight start has already committed.
	if id, ok := c.store.ActiveGroupID(); ok {
		return id, nil
	}

	if _, err := c.RefreshGroups(ctx); err != nil {
		return "", err
	}
	if id, ok := c.store.ActiveGroupID(); ok {
		return id, nil
	}

	// Server has zero groups; mint one.
	g, err := c.CreateNewGroup(ctx)
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

// RefreshGroups fetches the server's group list. As a documented side effect
// it commits the newest group (maximum created_at, first maximal element wins
// on ties) as active — but only if no active group is currently set. An
// existing selection is never overwritten. This is what resumes the most
// recent conversation on a fresh client.
func (c *Coordinator) RefreshGroups(ctx context.Context) ([]api.Group, error) {
	groups, err := c.client.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing groups: %w", err)
	}

	if _, ok := c.store.ActiveGroupID(); !ok && len(groups) > 0 {
		newest := newestGroup(groups)
		if err := c.store.SetActive(newest.ID); err != nil {
			return nil, err
		}
		c.logger.Debug("resumed most recent group", "group_id", newest.ID)
	}
	return groups, nil
}

// CreateNewGroup issues a single create request. On success the new id is
// committed as active; on failure the error propagates with no partial commit.
func (c *Coordinator) CreateNewGroup(ctx context.Context) (api.Group, error) {
	g, err := c.client.CreateGroup(ctx, "")
	if err != nil {
		return api.Group{}, fmt.Errorf("creating group: %w", err)
	}
	if err := c.store.SetActive(g.ID); err != nil {
		return api.Group{}, err
	}
	c.logger.Debug("created group", "group_id", g.ID)
	return g, nil
}

// DeleteGroup removes a group server-side and, if it was the active one,
// clears the local conversation state.
func (c *Coordinator) DeleteGroup(ctx context.Context, id string) error {
	if err := c.client.DeleteGroup(ctx, id); err != nil {
		return err
	}
	if cur, ok := c.store.ActiveGroupID(); ok && cur == id {
		return c.store.Clear()
	}
	return nil
}

// newestGroup returns the first maximal element by created_at, keeping the
// reduction deterministic when timestamps tie.
func newestGroup(groups []api.Group) api.Group {
	newest := groups[0]
	for _, g := range groups[1:] {
		if g.CreatedAt.After(newest.CreatedAt) {
			newest = g
		}
	}
	return newest
}
