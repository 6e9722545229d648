package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"linear/api/internal/attachment"
	"linear/api/internal/export"
	"linear/api/internal/model"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

var (
	projectStatuses = map[string]struct{}{
		"planned": {}, "active": {}, "paused": {}, "completed": {}, "cancelled": {},
	}
	hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// =============================================================================
// Projects
// =============================================================================

type CreateProjectInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Color       string     `json:"color"`
	Team        model.Ref  `json:"team"`
	Lead        model.Ref  `json:"lead"`
	Status      string     `json:"status"`
	StartDate   *time.Time `json:"startDate"`
	TargetDate  *time.Time `json:"targetDate"`
}

func (s *Service) ListProjects(ctx context.Context, teamID string) ([]model.Project, error) {
	return s.store.ListProjects(ctx, model.NormalizeRef(teamID).String())
}

func (s *Service) GetProject(ctx context.Context, id string) (model.Project, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Service) CreateProject(ctx context.Context, input CreateProjectInput) (model.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Project{}, validationError("name is required")
	}
	if input.Team.IsZero() {
		return model.Project{}, validationError("team is required")
	}
	if err := checkProjectStatus(input.Status); err != nil {
		return model.Project{}, err
	}
	if err := checkColor(input.Color); err != nil {
		return model.Project{}, err
	}
	if input.StartDate != nil && input.TargetDate != nil && input.TargetDate.Before(*input.StartDate) {
		return model.Project{}, validationError("targetDate must not precede startDate")
	}
	project, err := s.store.CreateProject(ctx, model.Project{
		Name:        name,
		Description: input.Description,
		Icon:        input.Icon,
		Color:       input.Color,
		Team:        input.Team,
		Lead:        input.Lead,
		Status:      input.Status,
		StartDate:   input.StartDate,
		TargetDate:  input.TargetDate,
	})
	if err != nil {
		return model.Project{}, mapStoreConflict(err)
	}
	return project, nil
}

func (s *Service) UpdateProject(ctx context.Context, id string, patch store.ProjectPatch) (model.Project, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Project{}, validationError("name cannot be empty")
	}
	if patch.Status != nil {
		if err := checkProjectStatus(*patch.Status); err != nil {
			return model.Project{}, err
		}
	}
	if patch.Color != nil {
		if err := checkColor(*patch.Color); err != nil {
			return model.Project{}, err
		}
	}
	if patch.Progress != nil && (*patch.Progress < 0 || *patch.Progress > 100) {
		return model.Project{}, validationError("progress must be between 0 and 100")
	}
	project, err := s.store.UpdateProject(ctx, id, patch)
	if err != nil {
		return model.Project{}, mapStoreConflict(err)
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	return s.store.DeleteProject(ctx, id)
}

// =============================================================================
// Cycles
// =============================================================================

type CreateCycleInput struct {
	Name        string    `json:"name"`
	Team        model.Ref `json:"team"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Description string    `json:"description"`
}

func (s *Service) ListCycles(ctx context.Context, teamID string, includeArchived bool) ([]model.Cycle, error) {
	return s.store.ListCycles(ctx, model.NormalizeRef(teamID).String(), includeArchived)
}

func (s *Service) GetCycle(ctx context.Context, id string) (model.Cycle, error) {
	return s.store.GetCycle(ctx, id)
}

func (s *Service) CreateCycle(ctx context.Context, input CreateCycleInput) (model.Cycle, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Cycle{}, validationError("name is required")
	}
	if input.Team.IsZero() {
		return model.Cycle{}, validationError("team is required")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return model.Cycle{}, validationError("startDate and endDate are required")
	}
	if !input.EndDate.After(input.StartDate) {
		return model.Cycle{}, validationError("endDate must be after startDate")
	}
	cycle, err := s.store.CreateCycle(ctx, model.Cycle{
		Name:        name,
		Team:        input.Team,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Description: input.Description,
	})
	if err != nil {
		return model.Cycle{}, mapStoreConflict(err)
	}
	return cycle, nil
}

func (s *Service) UpdateCycle(ctx context.Context, id string, patch store.CyclePatch) (model.Cycle, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Cycle{}, validationError("name cannot be empty")
	}
	if patch.Progress != nil && (*patch.Progress < 0 || *patch.Progress > 100) {
		return model.Cycle{}, validationError("progress must be between 0 and 100")
	}
	if patch.StartDate != nil && patch.EndDate != nil && !patch.EndDate.After(*patch.StartDate) {
		return model.Cycle{}, validationError("endDate must be after startDate")
	}
	cycle, err := s.store.UpdateCycle(ctx, id, patch)
	if err != nil {
		return model.Cycle{}, mapStoreConflict(err)
	}
	return cycle, nil
}

func (s *Service) DeleteCycle(ctx context.Context, id string) error {
	return s.store.DeleteCycle(ctx, id)
}

// =============================================================================
// Labels
// =============================================================================

type CreateLabelInput struct {
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Team        model.Ref `json:"team"`
	Description string    `json:"description"`
}

func (s *Service) ListLabels(ctx context.Context, teamID string) ([]model.Label, error) {
	return s.store.ListLabels(ctx, model.NormalizeRef(teamID).String())
}

// CreateLabel adds a team label, or a workspace label when team is empty.
func (s *Service) CreateLabel(ctx context.Context, input CreateLabelInput) (model.Label, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Label{}, validationError("name is required")
	}
	if err := checkColor(input.Color); err != nil {
		return model.Label{}, err
	}
	label, err := s.store.CreateLabel(ctx, model.Label{
		Name:        name,
		Color:       input.Color,
		Team:        input.Team,
		Description: input.Description,
	})
	if err != nil {
		return model.Label{}, mapStoreConflict(err)
	}
	return label, nil
}

func (s *Service) UpdateLabel(ctx context.Context, id string, patch store.LabelPatch) (model.Label, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Label{}, validationError("name cannot be empty")
	}
	if patch.Color != nil {
		if err := checkColor(*patch.Color); err != nil {
			return model.Label{}, err
		}
	}
	label, err := s.store.UpdateLabel(ctx, id, patch)
	if err != nil {
		return model.Label{}, mapStoreConflict(err)
	}
	return label, nil
}

func (s *Service) DeleteLabel(ctx context.Context, id string) error {
	return s.store.DeleteLabel(ctx, id)
}

func checkProjectStatus(status string) error {
	if status == "" {
		return nil
	}
	if _, ok := projectStatuses[status]; !ok {
		return validationError("invalid project status")
	}
	return nil
}

func checkColor(color string) error {
	if color != "" && !hexColor.MatchString(color) {
		return validationError("color must be a #RRGGBB value")
	}
	return nil
}

// =============================================================================
// Activity, search
// =============================================================================

type ActivityQuery struct {
	User  string
	Team  string
	Issue string
	Limit int
}

func (s *Service) ListActivity(ctx context.Context, q ActivityQuery) ([]model.Activity, error) {
	if q.Limit < 0 {
		return nil, validationError("limit must be a non-negative integer")
	}
	return s.store.ListActivity(ctx, store.ActivityFilter{
		User:  model.NormalizeRef(q.User).String(),
		Team:  model.NormalizeRef(q.Team).String(),
		Issue: model.NormalizeRef(q.Issue).String(),
		Limit: q.Limit,
	})
}

// Search queries the ticket index. Without one it degrades to the record
// store's substring filter.
func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if s.search != nil {
		return s.search.Search(q), nil
	}
	tickets, err := s.store.ListTickets(ctx, store.TicketFilter{Team: q.Team, Search: q.Text, Limit: q.Limit})
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.Result, 0, len(tickets))
	for _, t := range tickets {
		results = append(results, search.Result{
			ID:       t.ID,
			Title:    t.Title,
			Team:     t.Team.String(),
			Status:   string(t.Status),
			Priority: string(t.Priority),
		})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}, nil
}

// =============================================================================
// Uploads, export
// =============================================================================

// Upload is one file of a multipart upload.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type UploadedFile struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *Service) uploadsEnabled() error {
	if s.blobs == nil {
		return domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Attachment storage is not configured", nil)
	}
	return nil
}

func (s *Service) UploadLimit() int64 {
	if s.blobs == nil {
		return s.cfg.UploadMaxBytes
	}
	return s.blobs.MaxBytes()
}

// Upload stores files and returns the references to put in a ticket's or
// comment's attachments.
func (s *Service) Upload(ctx context.Context, files []Upload) ([]UploadedFile, error) {
	if err := s.uploadsEnabled(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, validationError("no files uploaded")
	}
	if limit := s.cfg.UploadMaxFiles; limit > 0 && len(files) > limit {
		return nil, validationError(fmt.Sprintf("at most %d files per upload", limit))
	}
	out := make([]UploadedFile, 0, len(files))
	for _, f := range files {
		key, err := s.blobs.Put(ctx, f.Filename, f.ContentType, f.Body, f.Size)
		if err != nil {
			if errors.Is(err, attachment.ErrTooLarge) {
				return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("%s exceeds the upload limit", f.Filename), nil)
			}
			return nil, err
		}
		out = append(out, UploadedFile{Key: key, URL: "/api/uploads/" + key, Filename: f.Filename, Size: f.Size})
	}
	return out, nil
}

// PresignUpload returns a short-lived download URL for a stored attachment.
func (s *Service) PresignUpload(ctx context.Context, key string) (string, error) {
	if err := s.uploadsEnabled(); err != nil {
		return "", err
	}
	url, err := s.blobs.PresignedURL(ctx, key)
	if err != nil {
		if errors.Is(err, attachment.ErrInvalidKey) {
			return "", domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
		}
		return "", err
	}
	return url, nil
}

func (s *Service) Export(ctx context.Context, session Session, ticketID, format string) (*export.Result, error) {
	f, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if !ok {
		return nil, validationError("format must be html or pdf")
	}
	result, err := s.exporter.Export(ctx, export.Request{TicketID: ticketID, Format: f, Viewer: session.UserID})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export requires headless Chrome", nil)
		}
		return nil, err
	}
	return result, nil
}
