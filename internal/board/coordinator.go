package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"linear/api/internal/model"
	"linear/api/internal/realtime"
)

var (
	ErrMoveFailed    = errors.New("move failed")
	ErrUnknownColumn = errors.New("unknown column")
)

// TicketUpdater persists a ticket's new status and returns the stored record.
type TicketUpdater interface {
	UpdateTicketStatus(ctx context.Context, id string, status model.Status) (model.Ticket, error)
}

type Publisher interface {
	Publish(ctx context.Context, event realtime.Event) error
}

// Drag describes a drop gesture: the ticket at FromIndex in From lands at
// ToIndex in To.
type Drag struct {
	From      model.Status
	FromIndex int
	To        model.Status
	ToIndex   int
}

type Outcome int

const (
	OutcomeNoop Outcome = iota
	OutcomeReordered
	OutcomePersisted
	OutcomeReverted
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReordered:
		return "reordered"
	case OutcomePersisted:
		return "persisted"
	case OutcomeReverted:
		return "reverted"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "noop"
	}
}

type MoveResult struct {
	Outcome Outcome
	Ticket  model.Ticket
}

// Coordinator turns drops into board mutations. Cross-column moves are
// applied optimistically, persisted, then announced on the team channel.
type Coordinator struct {
	board   *Board
	records TicketUpdater
	pub     Publisher
	team    string
	logger  *slog.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*inflight
}

// inflight tracks the unsettled moves of one ticket. origin is where the
// ticket last stood on the server as far as this client knows: the source
// of the oldest unsettled move, or the destination of a superseded move
// that was persisted.
type inflight struct {
	latest  uint64
	pending int
	origin  placement
}

type placement struct {
	ticket model.Ticket
	column model.Status
	index  int
}

func NewCoordinator(board *Board, records TicketUpdater, pub Publisher, team string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		board:    board,
		records:  records,
		pub:      pub,
		team:     team,
		logger:   logger.With("component", "board.coordinator", "team", team),
		inflight: make(map[string]*inflight),
	}
}

func (c *Coordinator) Move(ctx context.Context, drag Drag) (MoveResult, error) {
	if drag.From == drag.To && drag.FromIndex == drag.ToIndex {
		return MoveResult{Outcome: OutcomeNoop}, nil
	}
	if !drag.From.Valid() {
		return MoveResult{}, fmt.Errorf("%w: %q", ErrUnknownColumn, drag.From)
	}
	if !drag.To.Valid() {
		return MoveResult{}, fmt.Errorf("%w: %q", ErrUnknownColumn, drag.To)
	}

	if drag.From == drag.To {
		var reordered bool
		var ticket model.Ticket
		c.board.Update(func(s *Store) {
			reordered = s.MoveWithinColumn(drag.From, drag.FromIndex, drag.ToIndex)
			ticket, _, _ = s.At(drag.From, drag.ToIndex)
		})
		if !reordered {
			return MoveResult{Outcome: OutcomeNoop}, nil
		}
		return MoveResult{Outcome: OutcomeReordered, Ticket: ticket}, nil
	}

	var (
		original  model.Ticket
		fromIndex int
		found     bool
	)
	c.board.Update(func(s *Store) {
		original, fromIndex, found = s.At(drag.From, drag.FromIndex)
		if !found {
			return
		}
		s.Remove(original.ID)
		moved := original
		moved.Status = drag.To
		s.Insert(drag.To, moved, drag.ToIndex)
	})
	if !found {
		return MoveResult{Outcome: OutcomeNoop}, nil
	}

	token := c.issue(placement{ticket: original, column: drag.From, index: fromIndex})
	stored, err := c.records.UpdateTicketStatus(ctx, original.ID, drag.To)
	origin, latest := c.settle(original.ID, token, drag.To, stored, err)
	if !latest {
		c.logger.Debug("discarding superseded move response", "ticket", original.ID, "token", token)
		return MoveResult{Outcome: OutcomeSuperseded, Ticket: original}, nil
	}
	if err != nil {
		c.revert(origin, drag.To)
		c.logger.Warn("move not persisted", "ticket", original.ID, "from", drag.From, "to", drag.To, "error", err)
		return MoveResult{Outcome: OutcomeReverted, Ticket: original}, fmt.Errorf("%w: %s: %w", ErrMoveFailed, original.ID, err)
	}

	if stored.ID == "" {
		stored = original
		stored.Status = drag.To
	}
	c.board.Update(func(s *Store) { s.Replace(stored) })

	if c.pub != nil {
		event := realtime.MoveEvent(c.team, stored, drag.From, drag.To)
		if err := c.pub.Publish(ctx, event); err != nil {
			c.logger.Warn("publish move event", "ticket", stored.ID, "error", err)
		}
	}
	return MoveResult{Outcome: OutcomePersisted, Ticket: stored}, nil
}

// issue hands out a token for a new in-flight move. Tokens come from one
// counter so they are never reused. The first unsettled move of a ticket
// records its source as the origin.
func (c *Coordinator) issue(from placement) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := from.ticket.ID
	f := c.inflight[id]
	if f == nil {
		f = &inflight{origin: from}
		c.inflight[id] = f
	}
	f.latest = c.seq
	f.pending++
	return c.seq
}

// settle records the response of one move and reports whether it is the
// newest move of the ticket, together with the origin a failure reverts to.
func (c *Coordinator) settle(id string, token uint64, dest model.Status, stored model.Ticket, err error) (placement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.inflight[id]
	if f == nil {
		return placement{}, false
	}
	f.pending--
	if f.pending <= 0 {
		delete(c.inflight, id)
	}
	if f.latest != token {
		if err == nil {
			saved := f.origin.ticket
			if stored.ID != "" {
				saved = stored
			}
			saved.Status = dest
			f.origin = placement{ticket: saved, column: dest}
		}
		return placement{}, false
	}
	origin := f.origin
	if err == nil {
		saved := origin.ticket
		if stored.ID != "" {
			saved = stored
		}
		saved.Status = dest
		f.origin = placement{ticket: saved, column: dest}
	}
	return origin, true
}

// revert puts the ticket back at origin, unless something else has moved it
// out of dest since the optimistic update.
func (c *Coordinator) revert(origin placement, dest model.Status) {
	c.board.Update(func(s *Store) {
		column, _, found := s.Locate(origin.ticket.ID)
		if !found || column != dest {
			return
		}
		s.Remove(origin.ticket.ID)
		s.Insert(origin.column, origin.ticket, origin.index)
	})
}
