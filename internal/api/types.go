package api

import "time"

// Group is a server-side conversation container. Ids are minted by the server;
// the client never invents one locally. Groups are immutable once created.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchRequest is the payload for POST /search.
type SearchRequest struct {
	Message      string   `json:"message"`
	GroupID      string   `json:"group_id"`
	Conversation string   `json:"conversation,omitempty"`
	URLs         []string `json:"urls,omitempty"`
	ModelID      string   `json:"model_id,omitempty"`
}

// SearchResponse is the answer portion of a search turn.
type SearchResponse struct {
	Message string   `json:"message"`
	Sources []Source `json:"sources,omitempty"`
}

// Source is a reference the service cited in its answer.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SearchTurn is one completed question/answer exchange within a group.
type SearchTurn struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Response  SearchResponse `json:"response"`
	CreatedAt time.Time      `json:"created_at"`
}

type createGroupRequest struct {
	Name string `json:"name,omitempty"`
}

type deleteGroupRequest struct {
	ID string `json:"id"`
}

type deleteTurnRequest struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
}

type deleteResponse struct {
	Success bool `json:"success"`
}
