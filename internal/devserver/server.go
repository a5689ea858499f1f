// Package devserver is an in-memory implementation of the hosted search
// service API. It backs local development (`sesh devserver`) and the client
// integration tests; answers are canned, state lives for the process only.
package devserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sesh/internal/api"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Server holds the in-memory service state.
type Server struct {
	mu     sync.Mutex
	token  string
	groups []api.Group
	turns  map[string][]api.SearchTurn
	seq    int
}

// New creates a Server. An empty token disables bearer auth.
func New(token string) *Server {
	return &Server{
		token: token,
		turns: make(map[string][]api.SearchTurn),
	}
}

// Handler returns the HTTP handler implementing the service API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.token != "" {
		r.Use(bearerAuth(s.token))
	}

	r.Post("/groups", s.handleCreateGroup)
	r.Get("/groups", s.handleListGroups)
	r.Post("/groups/delete", s.handleDeleteGroup)
	r.Post("/search", s.handleSearch)
	r.Get("/search", s.handleListTurns)
	r.Post("/search/delete", s.handleDeleteTurn)

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		Name string `json:"name"`
	}
	// An empty body is a valid create request; the server picks the name.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	s.seq++
	if req.Name == "" {
		req.Name = fmt.Sprintf("Conversation %d", s.seq)
	}
	g := api.Group{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	s.groups = append(s.groups, g)
	s.mu.Unlock()

	writeJSON(w, g)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	groups := append([]api.Group(nil), s.groups...)
	s.mu.Unlock()

	if groups == nil {
		groups = []api.Group{}
	}
	writeJSON(w, groups)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.ID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
		return
	}

	s.mu.Lock()
	found := false
	for i, g := range s.groups {
		if g.ID == req.ID {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			delete(s.turns, req.ID)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		httpError(w, http.StatusNotFound, "not_found_error", "group %s not found", req.ID)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req api.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	}
	if req.GroupID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "group_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.groupExistsLocked(req.GroupID) {
		httpError(w, http.StatusNotFound, "not_found_error", "group %s not found", req.GroupID)
		return
	}

	turn := api.SearchTurn{
		ID:        uuid.New().String(),
		Query:     req.Message,
		Response:  cannedResponse(req),
		CreatedAt: time.Now().UTC(),
	}
	s.turns[req.GroupID] = append(s.turns[req.GroupID], turn)

	writeJSON(w, turn)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	if groupID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "group_id is required")
		return
	}

	s.mu.Lock()
	turns := append([]api.SearchTurn(nil), s.turns[groupID]...)
	s.mu.Unlock()

	if turns == nil {
		turns = []api.SearchTurn{}
	}
	writeJSON(w, turns)
}

func (s *Server) handleDeleteTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		ID      string `json:"id"`
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.ID == "" || req.GroupID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "id and group_id are required")
		return
	}

	s.mu.Lock()
	found := false
	turns := s.turns[req.GroupID]
	for i, turn := range turns {
		if turn.ID == req.ID {
			s.turns[req.GroupID] = append(turns[:i], turns[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		httpError(w, http.StatusNotFound, "not_found_error", "turn %s not found", req.ID)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) groupExistsLocked(id string) bool {
	for _, g := range s.groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

func cannedResponse(req api.SearchRequest) api.SearchResponse {
	resp := api.SearchResponse{
		Message: fmt.Sprintf("Dev answer for %q. The dev server returns canned responses; point sesh at a real deployment for live results.", req.Message),
	}
	for _, u := range req.URLs {
		resp.Sources = append(resp.Sources, api.Source{Title: u, URL: u})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
