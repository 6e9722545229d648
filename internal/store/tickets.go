package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

const ticketColumns = `
	t.id, t.team_id, t.title, t.description, t.status, t.priority,
	COALESCE(t.assignee_id, ''), COALESCE(t.project_id, ''), COALESCE(t.cycle_id, ''),
	t.due_date, t.sort_order, t.attachments, t.github_links, COALESCE(t.created_by, ''),
	t.version, t.created_at, t.updated_at,
	(SELECT COALESCE(json_agg(tl.label_id ORDER BY tl.label_id), '[]'::json) FROM ticket_labels tl WHERE tl.ticket_id = t.id)
`

var ticketSorts = map[string]string{
	"sortorder": "t.sort_order",
	"createdat": "t.created_at",
	"updatedat": "t.updated_at",
	"duedate":   "t.due_date",
	"priority":  "CASE t.priority WHEN 'URGENT' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END",
	"title":     "LOWER(t.title)",
}

func scanTicket(row interface{ Scan(...any) error }) (model.Ticket, error) {
	var (
		t                                     model.Ticket
		team, assignee, project, cycle, owner string
		status, priority                      string
		due                                   sql.NullTime
		attachments, links, labels            []byte
	)
	if err := row.Scan(
		&t.ID, &team, &t.Title, &t.Description, &status, &priority,
		&assignee, &project, &cycle,
		&due, &t.SortOrder, &attachments, &links, &owner,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
		&labels,
	); err != nil {
		return model.Ticket{}, err
	}
	t.Team = model.Ref(team)
	t.Status = model.Status(status)
	t.Priority = model.Priority(priority)
	t.Assignee = model.Ref(assignee)
	t.Project = model.Ref(project)
	t.Cycle = model.Ref(cycle)
	t.CreatedBy = model.Ref(owner)
	t.DueDate = timePtr(due)
	t.Attachments = decodeList(attachments)
	t.GithubLinks = decodeList(links)
	t.Labels = decodeRefs(labels)
	return t, nil
}

// SortKey normalizes a sortBy value ("sortOrder", "created_at", ...) to a
// key of the sort table.
func SortKey(sortBy string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(sortBy), "_", ""))
}

func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter) ([]model.Ticket, error) {
	orderExpr, ok := ticketSorts[SortKey(filter.SortBy)]
	if !ok {
		orderExpr = ticketSorts["sortorder"]
	}
	direction := "ASC"
	if strings.EqualFold(filter.Order, "desc") {
		direction = "DESC"
	}
	search := strings.TrimSpace(filter.Search)
	if search != "" {
		search = "%" + escapeLike(search) + "%"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tickets t
		WHERE ($1 = '' OR t.team_id = $1)
		  AND ($2 = '' OR t.assignee_id = $2)
		  AND ($3 = '' OR t.status = $3)
		  AND ($4 = '' OR t.priority = $4)
		  AND ($5 = '' OR t.project_id = $5)
		  AND ($6 = '' OR t.cycle_id = $6)
		  AND ($7 = '' OR EXISTS (SELECT 1 FROM ticket_labels tl WHERE tl.ticket_id = t.id AND tl.label_id = $7))
		  AND ($8 = '' OR t.title ILIKE $8 OR t.description ILIKE $8 OR t.id ILIKE $8)
		ORDER BY %s %s NULLS LAST, t.created_at DESC, t.id ASC
		LIMIT NULLIF($9, 0)
	`, ticketColumns, orderExpr, direction)

	rows, err := s.db.QueryContext(ctx, query,
		filter.Team, filter.Assignee, string(filter.Status), string(filter.Priority),
		filter.Project, filter.Cycle, filter.Label, search, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Ticket{}, err
		}
		return model.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// CreateTicket assigns the next "<IDENTIFIER>-<n>" key of the team and puts
// the ticket at the top of its column unless a sort order is given.
func (s *PostgresStore) CreateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	err := s.withTx(ctx, "create ticket", func(tx *sql.Tx) error {
		var identifier string
		var seq int64
		err := tx.QueryRowContext(ctx, `
			UPDATE teams SET ticket_seq = ticket_seq + 1, updated_at = NOW()
			WHERE id=$1 AND NOT archived
			RETURNING identifier, ticket_seq
		`, t.Team.String()).Scan(&identifier, &seq)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("allocate ticket key: %w", err)
		}
		t.ID = util.TicketKey(identifier, seq)

		if t.SortOrder == 0 {
			if err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MIN(sort_order), 0) - 1 FROM tickets WHERE team_id=$1 AND status=$2
			`, t.Team.String(), string(t.Status)).Scan(&t.SortOrder); err != nil {
				return fmt.Errorf("ticket sort order: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (id, team_id, title, description, status, priority, assignee_id, project_id, cycle_id,
				due_date, sort_order, attachments, github_links, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, t.ID, t.Team.String(), t.Title, t.Description, string(t.Status), string(t.Priority),
			nullRef(t.Assignee), nullRef(t.Project), nullRef(t.Cycle),
			nullTime(t.DueDate), t.SortOrder, jsonList(t.Attachments), jsonList(t.GithubLinks), nullRef(t.CreatedBy)); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: ticket references an unknown record", ErrConflict)
			}
			return fmt.Errorf("insert ticket: %w", err)
		}
		return replaceLabels(ctx, tx, t.ID, t.Labels.Strings())
	})
	if err != nil {
		return model.Ticket{}, err
	}
	return s.GetTicket(ctx, t.ID)
}

// UpdateTicket applies patch under a row lock, bumps the version and
// returns the record before and after the change.
func (s *PostgresStore) UpdateTicket(ctx context.Context, id string, patch TicketPatch) (model.Ticket, model.Ticket, error) {
	var before model.Ticket
	err := s.withTx(ctx, "update ticket", func(tx *sql.Tx) error {
		current, err := scanTicket(tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id=$1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock ticket: %w", err)
		}
		before = current
		next := patch.Apply(current)

		if _, err := tx.ExecContext(ctx, `
			UPDATE tickets SET
				title=$2, description=$3, status=$4, priority=$5,
				assignee_id=$6, project_id=$7, cycle_id=$8, due_date=$9, sort_order=$10,
				attachments=$11, github_links=$12,
				version = version + 1, updated_at = NOW()
			WHERE id=$1
		`, id, next.Title, next.Description, string(next.Status), string(next.Priority),
			nullRef(next.Assignee), nullRef(next.Project), nullRef(next.Cycle), nullTime(next.DueDate), next.SortOrder,
			jsonList(next.Attachments), jsonList(next.GithubLinks)); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: ticket references an unknown record", ErrConflict)
			}
			return fmt.Errorf("update ticket: %w", err)
		}
		if patch.Labels == nil {
			return nil
		}
		return replaceLabels(ctx, tx, id, *patch.Labels)
	})
	if err != nil {
		return model.Ticket{}, model.Ticket{}, err
	}
	after, err := s.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, model.Ticket{}, err
	}
	return before, after, nil
}

// DeleteTicket removes a ticket with its comments and returns the final
// state so callers can announce it.
func (s *PostgresStore) DeleteTicket(ctx context.Context, id string) (model.Ticket, error) {
	var deleted model.Ticket
	err := s.withTx(ctx, "delete ticket", func(tx *sql.Tx) error {
		t, err := scanTicket(tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id=$1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock ticket: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		deleted = t
		return nil
	})
	if err != nil {
		return model.Ticket{}, err
	}
	return deleted, nil
}

func replaceLabels(ctx context.Context, tx *sql.Tx, ticketID string, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_labels WHERE ticket_id=$1`, ticketID); err != nil {
		return fmt.Errorf("clear ticket labels: %w", err)
	}
	for _, label := range toRefs(labels) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_labels (ticket_id, label_id) VALUES ($1, $2)
		`, ticketID, label.String()); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown label %s", ErrConflict, label)
			}
			return fmt.Errorf("insert ticket label: %w", err)
		}
	}
	return nil
}
