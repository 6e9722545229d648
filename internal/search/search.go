package search

import "linear/api/internal/model"

// Result is a single ticket hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Team     string `json:"team"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Team   string // empty = every team
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a ticket search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TicketRecord is the data we index for a ticket.
type TicketRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Team        string `json:"team"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
}

func RecordFor(t model.Ticket) TicketRecord {
	return TicketRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Team:        t.Team.String(),
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Assignee:    t.Assignee.String(),
	}
}

const defaultLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}
