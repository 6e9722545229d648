package realtime

import (
	"context"
	"time"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

type Kind string

const (
	KindTicketCreated  Kind = "ticket.created"
	KindTicketMoved    Kind = "ticket.moved"
	KindTicketUpdated  Kind = "ticket.updated"
	KindTicketDeleted  Kind = "ticket.deleted"
	KindCommentCreated Kind = "comment.created"
	KindCommentUpdated Kind = "comment.updated"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTicketCreated, KindTicketMoved, KindTicketUpdated, KindTicketDeleted, KindCommentCreated, KindCommentUpdated:
		return true
	}
	return false
}

// Event is the envelope carried on a team channel. Delivery is
// at-least-once and a publisher receives its own events back.
type Event struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	Team           model.Ref      `json:"team"`
	Origin         string         `json:"origin,omitempty"`
	TicketID       model.Ref      `json:"ticketId,omitempty"`
	PreviousStatus model.Status   `json:"previousStatus,omitempty"`
	NewStatus      model.Status   `json:"newStatus,omitempty"`
	Ticket         *model.Ticket  `json:"ticket,omitempty"`
	Comment        *model.Comment `json:"comment,omitempty"`
	SentAt         time.Time      `json:"sentAt"`
}

// MoveEvent announces that a ticket changed columns.
func MoveEvent(team string, ticket model.Ticket, previous, next model.Status) Event {
	return Event{
		ID:             util.NewID("evt"),
		Kind:           KindTicketMoved,
		Team:           model.NormalizeRef(team),
		TicketID:       model.NormalizeRef(ticket.ID),
		PreviousStatus: previous,
		NewStatus:      next,
		Ticket:         &ticket,
		SentAt:         time.Now().UTC(),
	}
}

func TicketEvent(kind Kind, team string, ticket model.Ticket) Event {
	return Event{
		ID:       util.NewID("evt"),
		Kind:     kind,
		Team:     model.NormalizeRef(team),
		TicketID: model.NormalizeRef(ticket.ID),
		Ticket:   &ticket,
		SentAt:   time.Now().UTC(),
	}
}

func CommentEvent(kind Kind, team string, comment model.Comment) Event {
	return Event{
		ID:       util.NewID("evt"),
		Kind:     kind,
		Team:     model.NormalizeRef(team),
		TicketID: comment.Issue,
		Comment:  &comment,
		SentAt:   time.Now().UTC(),
	}
}

// Conn is a live subscription to one team channel. The owner must Close it;
// Events is closed when the subscription ends for any reason.
type Conn interface {
	Team() string
	Events() <-chan Event
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Joiner opens team channel subscriptions.
type Joiner interface {
	Join(ctx context.Context, team string) (Conn, error)
}
