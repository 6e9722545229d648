package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"linear/api/internal/model"
	"linear/api/internal/reaction"
	"linear/api/internal/thread"
)

// DataStore is the read access export needs.
type DataStore interface {
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	GetTeam(ctx context.Context, id string) (model.Team, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	ListComments(ctx context.Context, issueID string) ([]model.Comment, error)
	ListLabels(ctx context.Context, teamID string) ([]model.Label, error)
}

// PDFRenderer converts a rendered HTML page into a PDF document.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	store    DataStore
	markdown *Markdown
	pdf      PDFRenderer
	logger   *slog.Logger
}

func NewService(store DataStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		markdown: NewMarkdown(),
		pdf:      ChromePDF,
		logger:   logger.With("component", "export"),
	}
}

// WithPDFRenderer swaps the PDF backend.
func (s *Service) WithPDFRenderer(r PDFRenderer) *Service {
	s.pdf = r
	return s
}

// Export renders the ticket with its full reply tree in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	ticket, err := s.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	comments, err := s.store.ListComments(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	data, err := s.templateData(ctx, ticket, comments, req.Viewer)
	if err != nil {
		return nil, err
	}
	page, err := RenderTicketHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(ticket.ID + " " + ticket.Title)
	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(page), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		pdfData, err := s.pdf(ctx, page)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdfData, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) templateData(ctx context.Context, ticket model.Ticket, comments []model.Comment, viewer string) (TemplateData, error) {
	description, err := s.markdown.Render(ticket.Description)
	if err != nil {
		return TemplateData{}, err
	}
	data := TemplateData{
		Key:             ticket.ID,
		Title:           ticket.Title,
		Status:          string(ticket.Status),
		Priority:        string(ticket.Priority),
		DueDate:         ticket.DueDate,
		DescriptionHTML: description,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
		Labels:          []string{},
		Comments:        []TemplateComment{},
	}

	// Lookups below only decorate the page; a missing team or user is not fatal.
	if team, err := s.store.GetTeam(ctx, ticket.Team.String()); err == nil {
		data.TeamName = team.Name
	} else {
		s.logger.Debug("export without team name", "ticket", ticket.ID, "error", err)
	}
	if !ticket.Assignee.IsZero() {
		if user, err := s.store.GetUser(ctx, ticket.Assignee.String()); err == nil {
			data.AssigneeName = user.Name
		}
	}
	if len(ticket.Labels) > 0 {
		labels, err := s.store.ListLabels(ctx, ticket.Team.String())
		if err != nil {
			return TemplateData{}, fmt.Errorf("list labels: %w", err)
		}
		names := make(map[string]string, len(labels))
		for _, l := range labels {
			names[l.ID] = l.Name
		}
		for _, ref := range ticket.Labels {
			if name, ok := names[ref.String()]; ok {
				data.Labels = append(data.Labels, name)
			}
		}
	}

	var renderErr error
	thread.Walk(thread.Build(comments), func(node *thread.Node, depth int) {
		if renderErr != nil {
			return
		}
		body, err := s.markdown.Render(node.Body)
		if err != nil {
			renderErr = err
			return
		}
		data.Comments = append(data.Comments, TemplateComment{
			Depth:      depth,
			AuthorName: node.AuthorName,
			BodyHTML:   body,
			CreatedAt:  node.CreatedAt,
			Reactions:  reaction.Summarize(node.Reactions, viewer),
		})
	})
	if renderErr != nil {
		return TemplateData{}, renderErr
	}
	return data, nil
}

// exportTimeout bounds a single PDF render.
const exportTimeout = 30 * time.Second
