package app

import (
	"context"
	"io"
	"log/slog"

	"linear/api/internal/config"
	"linear/api/internal/export"
	"linear/api/internal/identity"
	"linear/api/internal/model"
	"linear/api/internal/realtime"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error

	ListUsers(context.Context) ([]model.User, error)
	GetUser(context.Context, string) (model.User, error)
	CreateUser(context.Context, model.User) (model.User, error)
	UpdateUser(context.Context, string, store.UserPatch) (model.User, error)

	ListTeams(context.Context, bool) ([]model.Team, error)
	GetTeam(context.Context, string) (model.Team, error)
	CreateTeam(context.Context, model.Team) (model.Team, error)
	UpdateTeam(context.Context, string, store.TeamPatch) (model.Team, error)
	ArchiveTeam(context.Context, string) error

	ListTickets(context.Context, store.TicketFilter) ([]model.Ticket, error)
	GetTicket(context.Context, string) (model.Ticket, error)
	CreateTicket(context.Context, model.Ticket) (model.Ticket, error)
	UpdateTicket(context.Context, string, store.TicketPatch) (model.Ticket, model.Ticket, error)
	DeleteTicket(context.Context, string) (model.Ticket, error)

	ListComments(context.Context, string) ([]model.Comment, error)
	GetComment(context.Context, string) (model.Comment, error)
	CreateComment(context.Context, model.Comment) (model.Comment, error)
	UpdateCommentBody(context.Context, string, string, model.Refs) (model.Comment, error)
	UpdateCommentReactions(context.Context, string, func([]model.Reaction) []model.Reaction) (model.Comment, error)
	DeleteComment(context.Context, string) error

	ListProjects(context.Context, string) ([]model.Project, error)
	GetProject(context.Context, string) (model.Project, error)
	CreateProject(context.Context, model.Project) (model.Project, error)
	UpdateProject(context.Context, string, store.ProjectPatch) (model.Project, error)
	DeleteProject(context.Context, string) error

	ListCycles(context.Context, string, bool) ([]model.Cycle, error)
	GetCycle(context.Context, string) (model.Cycle, error)
	CreateCycle(context.Context, model.Cycle) (model.Cycle, error)
	UpdateCycle(context.Context, string, store.CyclePatch) (model.Cycle, error)
	DeleteCycle(context.Context, string) error

	ListLabels(context.Context, string) ([]model.Label, error)
	CreateLabel(context.Context, model.Label) (model.Label, error)
	UpdateLabel(context.Context, string, store.LabelPatch) (model.Label, error)
	DeleteLabel(context.Context, string) error

	InsertActivity(context.Context, model.Activity) (model.Activity, error)
	ListActivity(context.Context, store.ActivityFilter) ([]model.Activity, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event realtime.Event) error
}

type ticketIndex interface {
	Search(q search.Query) search.Response
	IndexTicket(record search.TicketRecord)
	DeleteTicket(id string)
}

type blobStore interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	MaxBytes() int64
}

type mailer interface {
	SendMention(ctx context.Context, recipient model.User, author string, ticket model.Ticket, comment model.Comment) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators of a Service. Only Store is required.
type Deps struct {
	Store    dataStore
	Events   eventPublisher
	Search   ticketIndex
	Blobs    blobStore
	Exporter exporter
	Mailer   mailer
	Logger   *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	identity *identity.Provider
	events   eventPublisher
	search   ticketIndex
	blobs    blobStore
	exporter exporter
	mailer   mailer
	logger   *slog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exp := deps.Exporter
	if exp == nil {
		exp = export.NewService(deps.Store, logger)
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		identity: identity.New(cfg.DefaultUserID, deps.Store),
		events:   deps.Events,
		search:   deps.Search,
		blobs:    deps.Blobs,
		exporter: exp,
		mailer:   deps.Mailer,
		logger:   logger.With("component", "service"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// announce publishes to the team channel. Failures are logged only; the
// record store already holds the change.
func (s *Service) announce(ctx context.Context, event realtime.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", "kind", event.Kind, "team", event.Team, "error", err)
	}
}

// record appends to the activity feed. A failed write never fails the
// mutation that caused it.
func (s *Service) record(ctx context.Context, activity model.Activity) {
	if _, err := s.store.InsertActivity(ctx, activity); err != nil {
		s.logger.Warn("record activity failed", "type", activity.Type, "error", err)
	}
}

func (s *Service) index(ticket model.Ticket) {
	if s.search != nil {
		s.search.IndexTicket(search.RecordFor(ticket))
	}
}
