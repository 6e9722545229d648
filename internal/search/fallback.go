package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres searches tickets with a case-insensitive substring match. It
// backs the facade whenever Meilisearch is missing or unhealthy.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true; without Postgres there is no app.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text) + "%"

	const where = `
		WHERE ($2 = '' OR team_id = $2)
		  AND (title ILIKE $1 OR description ILIKE $1 OR id ILIKE $1)`

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM tickets`+where, pattern, q.Team).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ticket search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, LEFT(description, 160), team_id, status, priority
		FROM tickets`+where+`
		ORDER BY (title ILIKE $1) DESC, updated_at DESC, id ASC
		LIMIT $3 OFFSET $4
	`, pattern, q.Team, normalizeLimit(q.Limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ticket search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Team, &r.Status, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("ticket search scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every ticket for full reindexing.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]TicketRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, team_id, status, priority, COALESCE(assignee_id, '')
		FROM tickets
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	records := make([]TicketRecord, 0)
	for rows.Next() {
		var r TicketRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Team, &r.Status, &r.Priority, &r.Assignee); err != nil {
			return nil, fmt.Errorf("scan ticket record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return records, nil
}
