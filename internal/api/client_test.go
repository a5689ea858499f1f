package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kalambet/sesh/internal/api"
	"github.com/kalambet/sesh/internal/devserver"
)

func newTestClient(t *testing.T, token string) *api.Client {
	t.Helper()
	srv := httptest.NewServer(devserver.New(token).Handler())
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, token)
}

func TestGroupLifecycle(t *testing.T) {
	c := newTestClient(t, "tok")
	ctx := context.Background()

	g, err := c.CreateGroup(ctx, "research")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if g.ID == "" || g.Name != "research" {
		t.Errorf("created group = %+v", g)
	}

	groups, err := c.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != g.ID {
		t.Errorf("ListGroups = %+v, want the created group", groups)
	}

	if err := c.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	groups, err = c.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups after delete failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("ListGroups after delete = %+v, want empty", groups)
	}
}

func TestSearchAndTurns(t *testing.T) {
	c := newTestClient(t, "")
	ctx := context.Background()

	g, err := c.CreateGroup(ctx, "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	turn, err := c.Search(ctx, api.SearchRequest{Message: "what is WAL mode", GroupID: g.ID})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if turn.Query != "what is WAL mode" || turn.Response.Message == "" {
		t.Errorf("turn = %+v", turn)
	}

	turns, err := c.ListTurns(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != turn.ID {
		t.Errorf("ListTurns = %+v", turns)
	}

	if err := c.DeleteTurn(ctx, turn.ID, g.ID); err != nil {
		t.Fatalf("DeleteTurn failed: %v", err)
	}
	turns, err = c.ListTurns(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListTurns after delete failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("ListTurns after delete = %+v, want empty", turns)
	}
}

func TestBadTokenIsAPIError(t *testing.T) {
	srv := httptest.NewServer(devserver.New("right").Handler())
	t.Cleanup(srv.Close)
	c := api.NewClient(srv.URL, "wrong")

	_, err := c.ListGroups(context.Background())
	if err == nil {
		t.Fatal("ListGroups succeeded with a bad token")
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError in chain", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusUnauthorized)
	}
}

// TestRetriesRateLimit: a 429 is retried with backoff until the server
// recovers.
func TestRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := api.NewClient(srv.URL, "")
	groups, err := c.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups failed after retries: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("ListGroups = %+v, want empty", groups)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

// TestNoRetryOnClientError: a 4xx other than 429 is not transient; exactly
// one request goes out.
func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	c := api.NewClient(srv.URL, "")
	_, err := c.ListGroups(context.Background())
	if err == nil {
		t.Fatal("ListGroups succeeded, want error")
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError in chain", err)
	}
	if apiErr.Message != "nope" || apiErr.Type != "invalid_request_error" {
		t.Errorf("APIError = %+v, want decoded body", apiErr)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestDeleteReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false}`))
	}))
	t.Cleanup(srv.Close)

	c := api.NewClient(srv.URL, "")
	if err := c.DeleteGroup(context.Background(), "g1"); err == nil {
		t.Error("DeleteGroup succeeded despite success:false")
	}
	if err := c.DeleteTurn(context.Background(), "t1", "g1"); err == nil {
		t.Error("DeleteTurn succeeded despite success:false")
	}
}

func TestCancelledContextStopsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := api.NewClient(srv.URL, "")
	_, err := c.ListGroups(ctx)
	if err == nil {
		t.Fatal("ListGroups succeeded with cancelled context")
	}
}
