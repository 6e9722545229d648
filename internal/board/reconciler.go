package board

import (
	"context"
	"errors"
	"log/slog"

	"linear/api/internal/model"
	"linear/api/internal/realtime"
)

// ErrChannelClosed is returned by Run when the subscription ends. The caller
// is expected to resync with ReplaceAll before trusting the board again.
var ErrChannelClosed = errors.New("team channel closed")

// Reconciler merges team channel events into the board. Applying the same
// event more than once leaves the board as applying it once did.
type Reconciler struct {
	board     *Board
	team      model.Ref
	logger    *slog.Logger
	onComment func(issue model.Ref)
	observer  func(event realtime.Event, changed bool)
}

func NewReconciler(board *Board, team string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		board:  board,
		team:   model.NormalizeRef(team),
		logger: logger.With("component", "board.reconciler", "team", team),
	}
}

// Observe registers a callback Run invokes after applying each event.
func (r *Reconciler) Observe(fn func(event realtime.Event, changed bool)) {
	r.observer = fn
}

// OnComment registers a callback for comment events on an issue.
func (r *Reconciler) OnComment(fn func(issue model.Ref)) {
	r.onComment = fn
}

// Apply merges one event and reports whether the board changed.
func (r *Reconciler) Apply(event realtime.Event) bool {
	if !event.Team.IsZero() && event.Team != r.team {
		return false
	}
	switch event.Kind {
	case realtime.KindTicketMoved:
		if event.Ticket == nil {
			return false
		}
		ticket := *event.Ticket
		if event.NewStatus.Valid() {
			ticket.Status = event.NewStatus
		}
		return r.moveToHead(ticket)
	case realtime.KindTicketCreated:
		if event.Ticket == nil || !event.Ticket.Status.Valid() {
			return false
		}
		var inserted bool
		r.board.Update(func(s *Store) {
			inserted = s.Insert(event.Ticket.Status, *event.Ticket, 0)
		})
		return inserted
	case realtime.KindTicketUpdated:
		if event.Ticket == nil {
			return false
		}
		ticket := *event.Ticket
		var replaced bool
		r.board.Update(func(s *Store) {
			column, idx, found := s.Locate(ticket.ID)
			if found && column == ticket.Status && !stale(s.columns[column][idx], ticket) {
				replaced = s.Replace(ticket)
			}
		})
		if replaced {
			return true
		}
		return r.moveToHead(ticket)
	case realtime.KindTicketDeleted:
		id := event.TicketID.String()
		if id == "" && event.Ticket != nil {
			id = event.Ticket.ID
		}
		var removed bool
		r.board.Update(func(s *Store) {
			_, removed = s.Remove(id)
		})
		return removed
	case realtime.KindCommentCreated, realtime.KindCommentUpdated:
		issue := event.TicketID
		if issue.IsZero() && event.Comment != nil {
			issue = event.Comment.Issue
		}
		if r.onComment != nil && !issue.IsZero() {
			r.onComment(issue)
		}
		return false
	default:
		r.logger.Debug("ignoring event", "kind", event.Kind, "id", event.ID)
		return false
	}
}

// moveToHead removes the ticket from another column and inserts it at the
// head of its status column. A ticket already in that column keeps its
// position: an echo or redelivery changes nothing, a newer record is
// replaced in place.
func (r *Reconciler) moveToHead(ticket model.Ticket) bool {
	if ticket.ID == "" || !ticket.Status.Valid() {
		return false
	}
	var changed bool
	r.board.Update(func(s *Store) {
		column, idx, found := s.Locate(ticket.ID)
		if found {
			current := s.columns[column][idx]
			if stale(current, ticket) {
				return
			}
			if column == ticket.Status {
				if ticket.Version > current.Version {
					changed = s.Replace(ticket)
				}
				return
			}
		}
		changed = s.Place(ticket.Status, ticket, 0)
	})
	return changed
}

// stale reports whether incoming is an older record than current. Records
// without a version are never considered stale.
func stale(current, incoming model.Ticket) bool {
	return current.Version > 0 && incoming.Version > 0 && incoming.Version < current.Version
}

// Run applies events until the channel closes or ctx is done.
func (r *Reconciler) Run(ctx context.Context, events <-chan realtime.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ErrChannelClosed
			}
			changed := r.Apply(event)
			if r.observer != nil {
				r.observer(event, changed)
			}
		}
	}
}
