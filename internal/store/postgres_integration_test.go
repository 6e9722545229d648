package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"linear/api/internal/model"
	"linear/api/internal/reaction"
)

func ticketFixture() model.Ticket {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.Ticket{
		ID:          "ENG-1",
		Title:       "Fix login",
		Description: "Users bounce back to /login",
		Status:      model.StatusTodo,
		Priority:    model.PriorityHigh,
		Team:        "team-eng",
		Assignee:    "usr-ada",
		DueDate:     &due,
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LINEAR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LINEAR_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestTicketLifecyclePostgres(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()

	ada, err := s.CreateUser(ctx, model.User{ID: "usr-ada", Name: "Ada", Email: "Ada@Example.com"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if ada.Email != "ada@example.com" {
		t.Fatalf("email = %q, want lowercased", ada.Email)
	}
	if _, err := s.CreateUser(ctx, model.User{Name: "Dup", Email: "ada@example.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email error = %v, want ErrConflict", err)
	}

	team, err := s.CreateTeam(ctx, model.Team{ID: "team-eng", Name: "Engineering", Identifier: "ENG", Members: model.Refs{"usr-ada"}})
	if err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}
	if len(team.Members) != 1 || team.Members[0] != "usr-ada" {
		t.Fatalf("members = %v", team.Members)
	}

	first, err := s.CreateTicket(ctx, ticketFixture())
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	second, err := s.CreateTicket(ctx, ticketFixture())
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if first.ID != "ENG-1" || second.ID != "ENG-2" {
		t.Fatalf("keys = %s, %s", first.ID, second.ID)
	}
	if second.SortOrder >= first.SortOrder {
		t.Fatalf("new ticket sort order %v should precede %v", second.SortOrder, first.SortOrder)
	}

	status := model.StatusInProgress
	before, after, err := s.UpdateTicket(ctx, first.ID, TicketPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateTicket() error = %v", err)
	}
	if before.Status != model.StatusTodo || after.Status != model.StatusInProgress {
		t.Fatalf("status %s -> %s", before.Status, after.Status)
	}
	if after.Version != before.Version+1 {
		t.Fatalf("version %d -> %d", before.Version, after.Version)
	}

	list, err := s.ListTickets(ctx, TicketFilter{Team: "team-eng", Status: model.StatusInProgress})
	if err != nil {
		t.Fatalf("ListTickets() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != first.ID {
		t.Fatalf("filtered tickets = %+v", list)
	}
	found, err := s.ListTickets(ctx, TicketFilter{Search: "bounce"})
	if err != nil {
		t.Fatalf("ListTickets(search) error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("search hits = %d, want 2", len(found))
	}

	root, err := s.CreateComment(ctx, model.Comment{Issue: model.Ref(first.ID), Body: "hello", Author: "usr-ada"})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if root.AuthorName != "Ada" {
		t.Fatalf("AuthorName = %q", root.AuthorName)
	}
	if _, err := s.CreateComment(ctx, model.Comment{Issue: model.Ref(first.ID), Body: "reply", Parent: model.Ref(root.ID)}); err != nil {
		t.Fatalf("CreateComment(reply) error = %v", err)
	}

	reacted, err := s.UpdateCommentReactions(ctx, root.ID, func(rs []model.Reaction) []model.Reaction {
		return reaction.Add(rs, "👍", "usr-ada")
	})
	if err != nil {
		t.Fatalf("UpdateCommentReactions() error = %v", err)
	}
	if !reaction.Has(reacted.Reactions, "👍", "usr-ada") {
		t.Fatalf("reactions = %+v", reacted.Reactions)
	}

	if err := s.DeleteComment(ctx, root.ID); err != nil {
		t.Fatalf("DeleteComment() error = %v", err)
	}
	comments, err := s.ListComments(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 1 || !comments[0].Parent.IsZero() {
		t.Fatalf("orphaned reply should become a root: %+v", comments)
	}

	if _, err := s.InsertActivity(ctx, model.Activity{Type: model.ActivityIssueCreated, Issue: model.Ref(first.ID), User: "usr-ada", Team: "team-eng"}); err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}
	feed, err := s.ListActivity(ctx, ActivityFilter{Team: "team-eng"})
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("activity = %+v", feed)
	}

	if _, err := s.DeleteTicket(ctx, first.ID); err != nil {
		t.Fatalf("DeleteTicket() error = %v", err)
	}
	if _, err := s.GetTicket(ctx, first.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetTicket() after delete error = %v", err)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	var downs []string
	for _, entry := range entries {
		if !entry.IsDir() && pattern.MatchString(entry.Name()) {
			downs = append(downs, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, path := range downs {
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if text := strings.TrimSpace(string(contents)); text != "" {
			if _, err := db.ExecContext(ctx, text); err != nil {
				return err
			}
		}
	}
	return nil
}
