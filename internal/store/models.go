package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"linear/api/internal/model"
)

var (
	ErrNotFound = sql.ErrNoRows
	ErrConflict = errors.New("conflict")
)

type TicketFilter struct {
	Team     string
	Assignee string
	Status   model.Status
	Priority model.Priority
	Project  string
	Cycle    string
	Label    string
	Search   string
	SortBy   string
	Order    string
	Limit    int
}

// TicketPatch carries a partial ticket update. Nil fields are left alone; a
// pointer to "" clears an optional reference.
type TicketPatch struct {
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Status       *model.Status   `json:"status"`
	Priority     *model.Priority `json:"priority"`
	Assignee     *string         `json:"assignee"`
	Project      *string         `json:"project"`
	Cycle        *string         `json:"cycle"`
	Labels       *[]string       `json:"labels"`
	DueDate      *time.Time      `json:"dueDate"`
	ClearDueDate bool            `json:"clearDueDate"`
	SortOrder    *float64        `json:"sortOrder"`
	Attachments  *[]string       `json:"attachments"`
	GithubLinks  *[]string       `json:"githubLinks"`
}

func (p TicketPatch) Apply(t model.Ticket) model.Ticket {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = model.NormalizeRef(*p.Assignee)
	}
	if p.Project != nil {
		t.Project = model.NormalizeRef(*p.Project)
	}
	if p.Cycle != nil {
		t.Cycle = model.NormalizeRef(*p.Cycle)
	}
	if p.Labels != nil {
		t.Labels = toRefs(*p.Labels)
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.SortOrder != nil {
		t.SortOrder = *p.SortOrder
	}
	if p.Attachments != nil {
		t.Attachments = append([]string{}, (*p.Attachments)...)
	}
	if p.GithubLinks != nil {
		t.GithubLinks = append([]string{}, (*p.GithubLinks)...)
	}
	return t
}

type TeamPatch struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Icon        *string   `json:"icon"`
	Members     *[]string `json:"members"`
}

type UserPatch struct {
	Name   *string     `json:"name"`
	Email  *string     `json:"email"`
	Avatar *string     `json:"avatar"`
	Role   *model.Role `json:"role"`
}

type ProjectPatch struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Icon        *string    `json:"icon"`
	Color       *string    `json:"color"`
	Lead        *string    `json:"lead"`
	Status      *string    `json:"status"`
	StartDate   *time.Time `json:"startDate"`
	TargetDate  *time.Time `json:"targetDate"`
	Progress    *int       `json:"progress"`
}

type CyclePatch struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	CompletedAt *time.Time `json:"completedAt"`
	Progress    *int       `json:"progress"`
	Archived    *bool      `json:"archived"`
}

type LabelPatch struct {
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
}

type ActivityFilter struct {
	User  string
	Team  string
	Issue string
	Limit int
}

func toRefs(values []string) model.Refs {
	out := make(model.Refs, 0, len(values))
	seen := make(map[model.Ref]struct{}, len(values))
	for _, v := range values {
		ref := model.NormalizeRef(v)
		if ref.IsZero() {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func nullRef(ref model.Ref) any {
	if ref.IsZero() {
		return nil
	}
	return ref.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func jsonList(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return data
}

func decodeList(data []byte) []string {
	out := []string{}
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func decodeRefs(data []byte) model.Refs {
	out := model.Refs{}
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	if out == nil {
		out = model.Refs{}
	}
	return out
}

// escapeLike makes user text safe inside an ILIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
