package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if m.Down == "" {
			t.Fatalf("version %s must include a down file", m.Version)
		}
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, m.Version)
		}
	}
}

func TestLoadMigrationsPairsAndOrders(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_second.up.sql", "0001_first.up.sql", "0001_first.down.sql", "README.md", "0003_bad name.up.sql",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %+v", migrations)
	}
	if migrations[0].Version != "0001_first.up.sql" || migrations[0].Down == "" {
		t.Fatalf("unexpected first migration %+v", migrations[0])
	}
	if migrations[1].Version != "0002_second.up.sql" || migrations[1].Down != "" {
		t.Fatalf("unexpected second migration %+v", migrations[1])
	}
}

func TestLoadMigrationsRejectsOrphanDown(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_first.down.sql"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMigrations(dir); err == nil {
		t.Fatal("expected an error for a down file without an up file")
	}
}

func TestTicketStatusCheckMatchesBoardColumns(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(migrationsDir, "0001_core.up.sql"))
	if err != nil {
		t.Fatalf("read core migration: %v", err)
	}
	for _, status := range []string{"TODO", "INPROGRESS", "IN_DEV_REVIEW", "DONE", "CANCELLED"} {
		if !strings.Contains(string(contents), "'"+status+"'") {
			t.Fatalf("core migration does not allow status %s", status)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("escapeLike() = %q", got)
	}
}

func TestTicketPatchApply(t *testing.T) {
	title := "Renamed"
	empty := ""
	labels := []string{"bug", " bug ", "", "ui"}
	base := ticketFixture()

	got := TicketPatch{Title: &title, Assignee: &empty, Labels: &labels, ClearDueDate: true}.Apply(base)

	if got.Title != "Renamed" {
		t.Fatalf("Title = %q", got.Title)
	}
	if !got.Assignee.IsZero() {
		t.Fatalf("Assignee = %q, want cleared", got.Assignee)
	}
	if got.DueDate != nil {
		t.Fatalf("DueDate = %v, want nil", got.DueDate)
	}
	if strings.Join(got.Labels.Strings(), ",") != "bug,ui" {
		t.Fatalf("Labels = %v", got.Labels)
	}
	if got.Description != base.Description || got.Status != base.Status {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestSortKey(t *testing.T) {
	for in, want := range map[string]string{
		"sortOrder":  "sortorder",
		"created_at": "createdat",
		" Priority ": "priority",
	} {
		if got := SortKey(in); got != want {
			t.Fatalf("SortKey(%q) = %q, want %q", in, got, want)
		}
	}
}
