package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"linear/api/internal/board"
	"linear/api/internal/model"
	"linear/api/internal/realtime"
	"linear/api/internal/store"
)

type TicketQuery struct {
	Team     string
	Assignee string
	Status   string
	Priority string
	Project  string
	Cycle    string
	Label    string
	Search   string
	SortBy   string
	Order    string
	Limit    string
}

var ticketSortKeys = map[string]struct{}{
	"sortorder": {},
	"createdat": {},
	"updatedat": {},
	"duedate":   {},
	"priority":  {},
	"title":     {},
}

func (q TicketQuery) filter() (store.TicketFilter, error) {
	f := store.TicketFilter{
		Team:     model.NormalizeRef(q.Team).String(),
		Assignee: model.NormalizeRef(q.Assignee).String(),
		Project:  model.NormalizeRef(q.Project).String(),
		Cycle:    model.NormalizeRef(q.Cycle).String(),
		Label:    model.NormalizeRef(q.Label).String(),
		Search:   strings.TrimSpace(q.Search),
		SortBy:   strings.TrimSpace(q.SortBy),
	}
	if q.Status != "" {
		status, ok := model.ParseStatus(q.Status)
		if !ok {
			return store.TicketFilter{}, validationError("invalid status filter")
		}
		f.Status = status
	}
	if q.Priority != "" {
		priority, ok := model.ParsePriority(q.Priority)
		if !ok {
			return store.TicketFilter{}, validationError("invalid priority filter")
		}
		f.Priority = priority
	}
	if f.SortBy != "" {
		if _, ok := ticketSortKeys[store.SortKey(f.SortBy)]; !ok {
			return store.TicketFilter{}, validationError("invalid sortBy")
		}
	}
	switch strings.ToLower(strings.TrimSpace(q.Order)) {
	case "", "asc":
		f.Order = "asc"
	case "desc":
		f.Order = "desc"
	default:
		return store.TicketFilter{}, validationError("order must be asc or desc")
	}
	if q.Limit != "" {
		limit, err := strconv.Atoi(q.Limit)
		if err != nil || limit < 0 {
			return store.TicketFilter{}, validationError("limit must be a non-negative integer")
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Service) ListTickets(ctx context.Context, q TicketQuery) ([]model.Ticket, error) {
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}
	return s.store.ListTickets(ctx, filter)
}

func (s *Service) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	return s.store.GetTicket(ctx, strings.TrimSpace(id))
}

// Board returns every ticket of a team grouped into the fixed columns in
// sort order. It is the payload clients feed into ReplaceAll.
func (s *Service) Board(ctx context.Context, teamID string) (board.Snapshot, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, store.TicketFilter{Team: teamID, SortBy: "sortOrder", Order: "asc"})
	if err != nil {
		return nil, err
	}
	return board.Snapshot(board.GroupByStatus(tickets)), nil
}

type CreateTicketInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Team        model.Ref  `json:"team"`
	Assignee    model.Ref  `json:"assignee"`
	Project     model.Ref  `json:"project"`
	Cycle       model.Ref  `json:"cycle"`
	Labels      model.Refs `json:"labels"`
	DueDate     *time.Time `json:"dueDate"`
	Attachments []string   `json:"attachments"`
	GithubLinks []string   `json:"githubLinks"`
}

func (s *Service) CreateTicket(ctx context.Context, session Session, input CreateTicketInput) (model.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return model.Ticket{}, validationError("title is required")
	}
	if input.Team.IsZero() {
		return model.Ticket{}, validationError("team is required")
	}
	status := model.StatusTodo
	if input.Status != "" {
		parsed, ok := model.ParseStatus(input.Status)
		if !ok {
			return model.Ticket{}, validationError("invalid status")
		}
		status = parsed
	}
	priority := model.PriorityMedium
	if input.Priority != "" {
		parsed, ok := model.ParsePriority(input.Priority)
		if !ok {
			return model.Ticket{}, validationError("invalid priority")
		}
		priority = parsed
	}

	ticket, err := s.store.CreateTicket(ctx, model.Ticket{
		Title:       title,
		Description: input.Description,
		Status:      status,
		Priority:    priority,
		Team:        input.Team,
		Assignee:    input.Assignee,
		Project:     input.Project,
		Cycle:       input.Cycle,
		Labels:      input.Labels,
		DueDate:     input.DueDate,
		Attachments: cleanList(input.Attachments),
		GithubLinks: cleanList(input.GithubLinks),
		CreatedBy:   model.Ref(session.UserID),
	})
	if err != nil {
		return model.Ticket{}, mapStoreConflict(err)
	}

	s.record(ctx, model.Activity{
		Type:  model.ActivityIssueCreated,
		Issue: model.Ref(ticket.ID),
		User:  model.Ref(session.UserID),
		Team:  ticket.Team,
		Data:  map[string]any{"title": ticket.Title},
	})
	if !ticket.Assignee.IsZero() {
		s.record(ctx, model.Activity{
			Type:  model.ActivityIssueAssigned,
			Issue: model.Ref(ticket.ID),
			User:  model.Ref(session.UserID),
			Team:  ticket.Team,
			Data:  map[string]any{"assignee": ticket.Assignee.String()},
		})
	}
	s.index(ticket)
	s.announce(ctx, realtime.TicketEvent(realtime.KindTicketCreated, ticket.Team.String(), ticket))
	return ticket, nil
}

// UpdateTicket applies a partial update. A status change is announced as a
// move so boards relocate the card; anything else as an update.
func (s *Service) UpdateTicket(ctx context.Context, session Session, id string, patch store.TicketPatch) (model.Ticket, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return model.Ticket{}, validationError("title cannot be empty")
		}
		patch.Title = &title
	}
	if patch.Status != nil {
		status, ok := model.ParseStatus(string(*patch.Status))
		if !ok {
			return model.Ticket{}, validationError("invalid status")
		}
		patch.Status = &status
	}
	if patch.Priority != nil {
		priority, ok := model.ParsePriority(string(*patch.Priority))
		if !ok {
			return model.Ticket{}, validationError("invalid priority")
		}
		patch.Priority = &priority
	}

	before, after, err := s.store.UpdateTicket(ctx, id, patch)
	if err != nil {
		return model.Ticket{}, mapStoreConflict(err)
	}

	actor := model.Ref(session.UserID)
	switch {
	case before.Status != after.Status:
		s.record(ctx, model.Activity{
			Type:  model.ActivityStatusChanged,
			Issue: model.Ref(after.ID),
			User:  actor,
			Team:  after.Team,
			Data:  map[string]any{"oldStatus": string(before.Status), "newStatus": string(after.Status)},
		})
	case before.Assignee != after.Assignee && !after.Assignee.IsZero():
		s.record(ctx, model.Activity{
			Type:  model.ActivityIssueAssigned,
			Issue: model.Ref(after.ID),
			User:  actor,
			Team:  after.Team,
			Data:  map[string]any{"assignee": after.Assignee.String()},
		})
	default:
		s.record(ctx, model.Activity{
			Type:  model.ActivityIssueUpdated,
			Issue: model.Ref(after.ID),
			User:  actor,
			Team:  after.Team,
		})
	}

	s.index(after)
	if before.Status != after.Status {
		s.announce(ctx, realtime.MoveEvent(after.Team.String(), after, before.Status, after.Status))
	} else {
		s.announce(ctx, realtime.TicketEvent(realtime.KindTicketUpdated, after.Team.String(), after))
	}
	return after, nil
}

func (s *Service) DeleteTicket(ctx context.Context, id string) error {
	ticket, err := s.store.DeleteTicket(ctx, id)
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTicket(ticket.ID)
	}
	s.announce(ctx, realtime.TicketEvent(realtime.KindTicketDeleted, ticket.Team.String(), ticket))
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
