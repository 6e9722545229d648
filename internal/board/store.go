package board

import (
	"linear/api/internal/model"
)

// Snapshot is a copy of the board with every column present.
type Snapshot map[model.Status][]model.Ticket

// Store holds one team's tickets as ordered per-column lists. A ticket id
// appears in at most one column. Store does no locking; Board serializes it.
type Store struct {
	columns map[model.Status][]model.Ticket
}

func NewStore() *Store {
	return &Store{columns: emptyColumns()}
}

func emptyColumns() map[model.Status][]model.Ticket {
	columns := make(map[model.Status][]model.Ticket, len(model.Columns))
	for _, status := range model.Columns {
		columns[status] = []model.Ticket{}
	}
	return columns
}

// ReplaceAll overwrites the board. Unknown columns are ignored and a ticket
// listed twice stays in the first column (in display order) that lists it.
func (s *Store) ReplaceAll(columns map[model.Status][]model.Ticket) {
	next := emptyColumns()
	seen := make(map[string]struct{})
	for _, status := range model.Columns {
		for _, ticket := range columns[status] {
			if ticket.ID == "" {
				continue
			}
			if _, dup := seen[ticket.ID]; dup {
				continue
			}
			seen[ticket.ID] = struct{}{}
			next[status] = append(next[status], ticket)
		}
	}
	s.columns = next
}

// Insert places ticket at pos in column, clamping pos into range. It does
// nothing and returns false if the ticket is already on the board.
func (s *Store) Insert(column model.Status, ticket model.Ticket, pos int) bool {
	if ticket.ID == "" || !column.Valid() {
		return false
	}
	if _, _, found := s.Locate(ticket.ID); found {
		return false
	}
	list := s.columns[column]
	pos = clamp(pos, 0, len(list))
	list = append(list, model.Ticket{})
	copy(list[pos+1:], list[pos:])
	list[pos] = ticket
	s.columns[column] = list
	return true
}

// Remove deletes the ticket from whichever column holds it.
func (s *Store) Remove(id string) (model.Ticket, bool) {
	column, idx, found := s.Locate(id)
	if !found {
		return model.Ticket{}, false
	}
	list := s.columns[column]
	removed := list[idx]
	s.columns[column] = append(list[:idx:idx], list[idx+1:]...)
	return removed, true
}

// Place removes the ticket from wherever it is and inserts it at pos in
// column, so the last placement decides the column.
func (s *Store) Place(column model.Status, ticket model.Ticket, pos int) bool {
	if ticket.ID == "" || !column.Valid() {
		return false
	}
	s.Remove(ticket.ID)
	return s.Insert(column, ticket, pos)
}

// MoveWithinColumn reorders one column. Indices are clamped.
func (s *Store) MoveWithinColumn(column model.Status, from, to int) bool {
	list := s.columns[column]
	if len(list) == 0 {
		return false
	}
	from = clamp(from, 0, len(list)-1)
	to = clamp(to, 0, len(list)-1)
	if from == to {
		return false
	}
	ticket := list[from]
	if from < to {
		copy(list[from:to], list[from+1:to+1])
	} else {
		copy(list[to+1:from+1], list[to:from])
	}
	list[to] = ticket
	return true
}

// Replace swaps in a fresher record for a ticket without moving it.
func (s *Store) Replace(ticket model.Ticket) bool {
	column, idx, found := s.Locate(ticket.ID)
	if !found {
		return false
	}
	s.columns[column][idx] = ticket
	return true
}

// Locate returns the column and index holding id.
func (s *Store) Locate(id string) (model.Status, int, bool) {
	if id == "" {
		return "", 0, false
	}
	for _, status := range model.Columns {
		for i, ticket := range s.columns[status] {
			if ticket.ID == id {
				return status, i, true
			}
		}
	}
	return "", 0, false
}

// At returns the ticket at idx in column, clamping idx.
func (s *Store) At(column model.Status, idx int) (model.Ticket, int, bool) {
	list := s.columns[column]
	if len(list) == 0 {
		return model.Ticket{}, 0, false
	}
	idx = clamp(idx, 0, len(list)-1)
	return list[idx], idx, true
}

func (s *Store) Column(column model.Status) []model.Ticket {
	return append([]model.Ticket(nil), s.columns[column]...)
}

func (s *Store) Len() int {
	n := 0
	for _, list := range s.columns {
		n += len(list)
	}
	return n
}

func (s *Store) Snapshot() Snapshot {
	out := make(Snapshot, len(model.Columns))
	for _, status := range model.Columns {
		out[status] = append([]model.Ticket{}, s.columns[status]...)
	}
	return out
}

// GroupByStatus buckets tickets into columns, keeping input order. Tickets
// with an unknown status are dropped.
func GroupByStatus(tickets []model.Ticket) map[model.Status][]model.Ticket {
	out := emptyColumns()
	for _, ticket := range tickets {
		if !ticket.Status.Valid() {
			continue
		}
		out[ticket.Status] = append(out[ticket.Status], ticket)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
