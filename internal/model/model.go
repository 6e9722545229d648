package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusTodo        Status = "TODO"
	StatusInProgress  Status = "INPROGRESS"
	StatusInDevReview Status = "IN_DEV_REVIEW"
	StatusDone        Status = "DONE"
	StatusCancelled   Status = "CANCELLED"
)

// Columns lists the board columns in display order.
var Columns = []Status{StatusTodo, StatusInProgress, StatusInDevReview, StatusDone, StatusCancelled}

func (s Status) Valid() bool {
	for _, c := range Columns {
		if c == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts any casing and the "IN_PROGRESS" spelling.
func ParseStatus(raw string) (Status, bool) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "IN_PROGRESS" {
		value = string(StatusInProgress)
	}
	status := Status(value)
	return status, status.Valid()
}

type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	return p, p.Valid()
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Ticket is a unit of work. ID is the human-readable key, e.g. "ENG-42".
type Ticket struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Team        Ref        `json:"team"`
	Assignee    Ref        `json:"assignee,omitempty"`
	Project     Ref        `json:"project,omitempty"`
	Cycle       Ref        `json:"cycle,omitempty"`
	Labels      Refs       `json:"labels"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	SortOrder   float64    `json:"sortOrder"`
	Attachments []string   `json:"attachments"`
	GithubLinks []string   `json:"githubLinks"`
	CreatedBy   Ref        `json:"createdBy,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t *Ticket) UnmarshalJSON(data []byte) error {
	type plain Ticket
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.ID == "" {
		decoded.ID = fallbackID(data, "issueId", "_id")
	}
	*t = Ticket(decoded)
	return nil
}

type Reaction struct {
	Emoji string `json:"emoji"`
	Users Refs   `json:"users"`
}

type Comment struct {
	ID          string     `json:"id"`
	Issue       Ref        `json:"issue"`
	Body        string     `json:"body"`
	Author      Ref        `json:"author"`
	AuthorName  string     `json:"authorName,omitempty"`
	Parent      Ref        `json:"parent"`
	Reactions   []Reaction `json:"reactions"`
	Attachments []string   `json:"attachments"`
	Mentions    Refs       `json:"mentions"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	type plain Comment
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.ID == "" {
		decoded.ID = fallbackID(data, "_id")
	}
	*c = Comment(decoded)
	return nil
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.ID == "" {
		decoded.ID = fallbackID(data, "_id")
	}
	*u = User(decoded)
	return nil
}

type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Identifier  string    `json:"identifier"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	Members     Refs      `json:"members"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color,omitempty"`
	Team        Ref        `json:"team"`
	Lead        Ref        `json:"lead,omitempty"`
	Status      string     `json:"status"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	TargetDate  *time.Time `json:"targetDate,omitempty"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Cycle struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Team        Ref        `json:"team"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     time.Time  `json:"endDate"`
	Description string     `json:"description"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Progress    int        `json:"progress"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Label struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Team        Ref       `json:"team,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

const DefaultLabelColor = "#5E6AD2"

type ActivityType string

const (
	ActivityIssueCreated  ActivityType = "issue_created"
	ActivityIssueUpdated  ActivityType = "issue_updated"
	ActivityIssueAssigned ActivityType = "issue_assigned"
	ActivityCommentAdded  ActivityType = "comment_added"
	ActivityMention       ActivityType = "mention"
	ActivityStatusChanged ActivityType = "status_changed"
)

type Activity struct {
	ID        string         `json:"id"`
	Type      ActivityType   `json:"type"`
	Issue     Ref            `json:"issue,omitempty"`
	User      Ref            `json:"user"`
	Team      Ref            `json:"team"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func fallbackID(data []byte, keys ...string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	for _, key := range keys {
		if raw, ok := obj[key]; ok {
			if ref := parseRef(raw); !ref.IsZero() {
				return ref.String()
			}
		}
	}
	return ""
}
