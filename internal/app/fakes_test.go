package app

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"

	"linear/api/internal/config"
	"linear/api/internal/export"
	"linear/api/internal/model"
	"linear/api/internal/realtime"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

type fakeStore struct {
	pingFn                   func(context.Context) error
	listUsersFn              func(context.Context) ([]model.User, error)
	createUserFn             func(context.Context, model.User) (model.User, error)
	updateUserFn             func(context.Context, string, store.UserPatch) (model.User, error)
	getTeamFn                func(context.Context, string) (model.Team, error)
	createTeamFn             func(context.Context, model.Team) (model.Team, error)
	listTicketsFn            func(context.Context, store.TicketFilter) ([]model.Ticket, error)
	getTicketFn              func(context.Context, string) (model.Ticket, error)
	createTicketFn           func(context.Context, model.Ticket) (model.Ticket, error)
	updateTicketFn           func(context.Context, string, store.TicketPatch) (model.Ticket, model.Ticket, error)
	deleteTicketFn           func(context.Context, string) (model.Ticket, error)
	listCommentsFn           func(context.Context, string) ([]model.Comment, error)
	getCommentFn             func(context.Context, string) (model.Comment, error)
	createCommentFn          func(context.Context, model.Comment) (model.Comment, error)
	updateCommentBodyFn      func(context.Context, string, string, model.Refs) (model.Comment, error)
	updateCommentReactionsFn func(context.Context, string, func([]model.Reaction) []model.Reaction) (model.Comment, error)
	deleteCommentFn          func(context.Context, string) error
	createProjectFn          func(context.Context, model.Project) (model.Project, error)
	createCycleFn            func(context.Context, model.Cycle) (model.Cycle, error)
	createLabelFn            func(context.Context, model.Label) (model.Label, error)
	listActivityFn           func(context.Context, store.ActivityFilter) ([]model.Activity, error)

	mu         sync.Mutex
	activities []model.Activity
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]model.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return []model.User{
		{ID: "usr-ada", Name: "Ada Lovelace", Role: model.RoleMember},
		{ID: "usr-grace", Name: "Grace Hopper", Role: model.RoleAdmin},
		{ID: "usr-guest", Name: "Visitor", Role: model.RoleGuest},
	}, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (model.User, error) {
	users, _ := f.ListUsers(ctx)
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, u)
	}
	u.ID = "usr-new"
	return u, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (model.User, error) {
	if f.updateUserFn != nil {
		return f.updateUserFn(ctx, id, patch)
	}
	return f.GetUser(ctx, id)
}

func (f *fakeStore) ListTeams(context.Context, bool) ([]model.Team, error) {
	return []model.Team{{ID: "team-eng", Name: "Engineering", Identifier: "ENG"}}, nil
}

func (f *fakeStore) GetTeam(ctx context.Context, id string) (model.Team, error) {
	if f.getTeamFn != nil {
		return f.getTeamFn(ctx, id)
	}
	if id == "team-eng" {
		return model.Team{ID: "team-eng", Name: "Engineering", Identifier: "ENG"}, nil
	}
	return model.Team{}, sql.ErrNoRows
}

func (f *fakeStore) CreateTeam(ctx context.Context, t model.Team) (model.Team, error) {
	if f.createTeamFn != nil {
		return f.createTeamFn(ctx, t)
	}
	t.ID = "team-new"
	return t, nil
}

func (f *fakeStore) UpdateTeam(ctx context.Context, id string, _ store.TeamPatch) (model.Team, error) {
	return f.GetTeam(ctx, id)
}

func (f *fakeStore) ArchiveTeam(context.Context, string) error { return nil }

func (f *fakeStore) ListTickets(ctx context.Context, filter store.TicketFilter) ([]model.Ticket, error) {
	if f.listTicketsFn != nil {
		return f.listTicketsFn(ctx, filter)
	}
	return []model.Ticket{}, nil
}

func (f *fakeStore) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	if f.getTicketFn != nil {
		return f.getTicketFn(ctx, id)
	}
	if id == "ENG-1" {
		return model.Ticket{ID: "ENG-1", Title: "Fix login", Status: model.StatusTodo, Team: "team-eng"}, nil
	}
	return model.Ticket{}, sql.ErrNoRows
}

func (f *fakeStore) CreateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	if f.createTicketFn != nil {
		return f.createTicketFn(ctx, t)
	}
	t.ID = "ENG-1"
	t.Version = 1
	return t, nil
}

func (f *fakeStore) UpdateTicket(ctx context.Context, id string, patch store.TicketPatch) (model.Ticket, model.Ticket, error) {
	if f.updateTicketFn != nil {
		return f.updateTicketFn(ctx, id, patch)
	}
	before, err := f.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, model.Ticket{}, err
	}
	after := patch.Apply(before)
	after.Version = before.Version + 1
	return before, after, nil
}

func (f *fakeStore) DeleteTicket(ctx context.Context, id string) (model.Ticket, error) {
	if f.deleteTicketFn != nil {
		return f.deleteTicketFn(ctx, id)
	}
	return f.GetTicket(ctx, id)
}

func (f *fakeStore) ListComments(ctx context.Context, issue string) ([]model.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, issue)
	}
	return []model.Comment{}, nil
}

func (f *fakeStore) GetComment(ctx context.Context, id string) (model.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return model.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, c)
	}
	c.ID = "cmt-new"
	return c, nil
}

func (f *fakeStore) UpdateCommentBody(ctx context.Context, id, body string, mentions model.Refs) (model.Comment, error) {
	if f.updateCommentBodyFn != nil {
		return f.updateCommentBodyFn(ctx, id, body, mentions)
	}
	c, err := f.GetComment(ctx, id)
	c.Body = body
	c.Mentions = mentions
	return c, err
}

func (f *fakeStore) UpdateCommentReactions(ctx context.Context, id string, fn func([]model.Reaction) []model.Reaction) (model.Comment, error) {
	if f.updateCommentReactionsFn != nil {
		return f.updateCommentReactionsFn(ctx, id, fn)
	}
	c, err := f.GetComment(ctx, id)
	if err != nil {
		return model.Comment{}, err
	}
	c.Reactions = fn(c.Reactions)
	return c, nil
}

func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) ListProjects(context.Context, string) ([]model.Project, error) {
	return []model.Project{}, nil
}
func (f *fakeStore) GetProject(context.Context, string) (model.Project, error) {
	return model.Project{}, sql.ErrNoRows
}
func (f *fakeStore) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, p)
	}
	p.ID = "prj-new"
	return p, nil
}
func (f *fakeStore) UpdateProject(context.Context, string, store.ProjectPatch) (model.Project, error) {
	return model.Project{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteProject(context.Context, string) error { return nil }

func (f *fakeStore) ListCycles(context.Context, string, bool) ([]model.Cycle, error) {
	return []model.Cycle{}, nil
}
func (f *fakeStore) GetCycle(context.Context, string) (model.Cycle, error) {
	return model.Cycle{}, sql.ErrNoRows
}
func (f *fakeStore) CreateCycle(ctx context.Context, c model.Cycle) (model.Cycle, error) {
	if f.createCycleFn != nil {
		return f.createCycleFn(ctx, c)
	}
	c.ID = "cyc-new"
	return c, nil
}
func (f *fakeStore) UpdateCycle(context.Context, string, store.CyclePatch) (model.Cycle, error) {
	return model.Cycle{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteCycle(context.Context, string) error { return nil }

func (f *fakeStore) ListLabels(context.Context, string) ([]model.Label, error) {
	return []model.Label{}, nil
}
func (f *fakeStore) CreateLabel(ctx context.Context, l model.Label) (model.Label, error) {
	if f.createLabelFn != nil {
		return f.createLabelFn(ctx, l)
	}
	l.ID = "lbl-new"
	return l, nil
}
func (f *fakeStore) UpdateLabel(context.Context, string, store.LabelPatch) (model.Label, error) {
	return model.Label{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteLabel(context.Context, string) error { return nil }

func (f *fakeStore) InsertActivity(_ context.Context, a model.Activity) (model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return a, nil
}

func (f *fakeStore) ListActivity(ctx context.Context, filter store.ActivityFilter) ([]model.Activity, error) {
	if f.listActivityFn != nil {
		return f.listActivityFn(ctx, filter)
	}
	return []model.Activity{}, nil
}

func (f *fakeStore) recorded() []model.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Activity(nil), f.activities...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *fakeEvents) Publish(_ context.Context, event realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) published() []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Event(nil), f.events...)
}

type fakeIndex struct {
	searchFn func(search.Query) search.Response
	indexed  []search.TicketRecord
	deleted  []string
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeIndex) IndexTicket(record search.TicketRecord) { f.indexed = append(f.indexed, record) }
func (f *fakeIndex) DeleteTicket(id string)                 { f.deleted = append(f.deleted, id) }

type fakeBlobs struct {
	maxBytes int64
	puts     []string
}

func (f *fakeBlobs) Put(_ context.Context, filename, _ string, r io.Reader, _ int64) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	key := "att_0123456789abcdef/" + filename
	f.puts = append(f.puts, key)
	return key, nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://objects.example/" + key + "?sig=1", nil
}

func (f *fakeBlobs) MaxBytes() int64 { return f.maxBytes }

type fakeExporter struct {
	requests []export.Request
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.requests = append(f.requests, req)
	return &export.Result{Data: []byte("<html></html>"), Filename: req.TicketID + ".html", MimeType: "text/html; charset=utf-8"}, nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendMention(_ context.Context, recipient model.User, author string, ticket model.Ticket, _ model.Comment) error {
	f.sent = append(f.sent, recipient.ID+"<-"+author+"@"+ticket.ID)
	return f.err
}

type testRig struct {
	store    *fakeStore
	events   *fakeEvents
	index    *fakeIndex
	blobs    *fakeBlobs
	exporter *fakeExporter
	mailer   *fakeMailer
	service  *Service
}

func newTestRig(fs *fakeStore) *testRig {
	if fs == nil {
		fs = &fakeStore{}
	}
	rig := &testRig{
		store:    fs,
		events:   &fakeEvents{},
		index:    &fakeIndex{},
		blobs:    &fakeBlobs{maxBytes: 1 << 20},
		exporter: &fakeExporter{},
		mailer:   &fakeMailer{},
	}
	rig.service = New(config.Config{DefaultUserID: "usr-ada", UploadMaxFiles: 2, UploadMaxBytes: 1 << 20}, Deps{
		Store:    fs,
		Events:   rig.events,
		Search:   rig.index,
		Blobs:    rig.blobs,
		Exporter: rig.exporter,
		Mailer:   rig.mailer,
		Logger:   discardLogger(),
	})
	return rig
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	member = Session{UserID: "usr-ada", UserName: "Ada Lovelace", Role: model.RoleMember}
	admin  = Session{UserID: "usr-grace", UserName: "Grace Hopper", Role: model.RoleAdmin}
	guest  = Session{UserID: "usr-guest", UserName: "Visitor", Role: model.RoleGuest}
)
