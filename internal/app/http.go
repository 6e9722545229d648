package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linear/api/internal/rbac"
	"linear/api/internal/realtime"
	"linear/api/internal/search"
	"linear/api/internal/store"
)

const maxUploadForm = 32 << 20

type HTTPServer struct {
	service    *Service
	hub        *realtime.Hub
	corsOrigin string
	logger     *slog.Logger
}

// NewHTTPServer builds the API router. hub may be nil, in which case the
// team event socket answers 503.
func NewHTTPServer(service *Service, hub *realtime.Hub, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin, logger: logger.With("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Info("permission denied", "user", session.UserID, "role", session.Role, "action", action, "path", r.URL.Path)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	s.forbid(w, r, session, action)
	return false
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Bootstrap: the first user can be created before any identity exists.
	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		s.handleCreateUser(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{"userId": session.UserID, "userName": session.UserName, "role": session.Role})
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if s.routeRBAC(w, r, session, parts) {
		return
	}

	switch parts[0] {
	case "teams":
		if len(parts) == 3 && parts[2] == "board" && r.Method == http.MethodGet {
			snapshot, err := s.service.Board(r.Context(), parts[1])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
		if len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet {
			s.handleTeamEvents(w, r, parts[1])
			return
		}
	case "tickets":
		if len(parts) == 1 {
			s.handleTickets(w, r, session)
			return
		}
		if len(parts) == 2 {
			s.handleTicket(w, r, session, parts[1])
			return
		}
		if len(parts) == 3 {
			s.handleTicketChild(w, r, session, parts[1], parts[2])
			return
		}
	case "comments":
		if len(parts) == 2 {
			s.handleComment(w, r, session, parts[1])
			return
		}
		if len(parts) == 3 && parts[2] == "reaction" && r.Method == http.MethodPatch {
			s.handleReaction(w, r, session, parts[1])
			return
		}
	case "projects", "cycles", "labels":
		s.handlePlanning(w, r, session, parts)
		return
	case "activity":
		if len(parts) == 1 && r.Method == http.MethodGet {
			query := r.URL.Query()
			limit, err := optionalInt(query.Get("limit"))
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			items, err := s.service.ListActivity(r.Context(), ActivityQuery{
				User:  query.Get("user"),
				Team:  query.Get("team"),
				Issue: query.Get("issue"),
				Limit: limit,
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
			return
		}
	case "search":
		if len(parts) == 1 && r.Method == http.MethodGet {
			s.handleSearch(w, r)
			return
		}
	case "uploads":
		if len(parts) == 1 && r.Method == http.MethodPost {
			if !s.allow(w, r, session, rbac.ActionComment) {
				return
			}
			s.handleUpload(w, r)
			return
		}
		if len(parts) > 1 && r.Method == http.MethodGet {
			url, err := s.service.PresignUpload(r.Context(), strings.Join(parts[1:], "/"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTeamEvents(w http.ResponseWriter, r *http.Request, teamID string) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime channel is not configured", nil)
		return
	}
	team, err := s.service.GetTeam(r.Context(), teamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.hub.Serve(w, r, team.ID)
}

func (s *HTTPServer) handleTickets(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		tickets, err := s.service.ListTickets(r.Context(), TicketQuery{
			Team:     query.Get("team"),
			Assignee: query.Get("assignee"),
			Status:   query.Get("status"),
			Priority: query.Get("priority"),
			Project:  query.Get("project"),
			Cycle:    query.Get("cycle"),
			Label:    query.Get("label"),
			Search:   query.Get("search"),
			SortBy:   query.Get("sortBy"),
			Order:    query.Get("order"),
			Limit:    query.Get("limit"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
		return
	}

	if r.Method == http.MethodPost {
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		var body CreateTicketInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ticket, err := s.service.CreateTicket(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ticket)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTicket(w http.ResponseWriter, r *http.Request, session Session, ticketID string) {
	switch r.Method {
	case http.MethodGet:
		ticket, err := s.service.GetTicket(r.Context(), ticketID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case http.MethodPatch, http.MethodPut:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		var patch store.TicketPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ticket, err := s.service.UpdateTicket(r.Context(), session, ticketID, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case http.MethodDelete:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteTicket(r.Context(), ticketID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTicketChild(w http.ResponseWriter, r *http.Request, session Session, ticketID, child string) {
	switch {
	case child == "comments" && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), ticketID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comments)
	case child == "comments" && r.Method == http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionComment) {
			return
		}
		var body CreateCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.CreateComment(r.Context(), session, ticketID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	case child == "thread" && r.Method == http.MethodGet:
		roots, err := s.service.Thread(r.Context(), ticketID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roots)
	case child == "activity" && r.Method == http.MethodGet:
		items, err := s.service.ListActivity(r.Context(), ActivityQuery{Issue: ticketID})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case child == "export" && r.Method == http.MethodGet:
		result, err := s.service.Export(r.Context(), session, ticketID, r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, session Session, commentID string) {
	switch r.Method {
	case http.MethodPatch, http.MethodPut:
		if !s.allow(w, r, session, rbac.ActionComment) {
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), session, commentID, body.Body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
	case http.MethodDelete:
		if !s.allow(w, r, session, rbac.ActionComment) {
			return
		}
		if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleReaction(w http.ResponseWriter, r *http.Request, session Session, commentID string) {
	if !s.allow(w, r, session, rbac.ActionComment) {
		return
	}
	var body ReactInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.React(r.Context(), session, commentID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

// handlePlanning serves /projects, /cycles and /labels. All three share the
// same shape: list by ?team=, create, and read/patch/delete by id.
func (s *HTTPServer) handlePlanning(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	kind := parts[0]
	team := r.URL.Query().Get("team")

	if len(parts) == 1 && r.Method == http.MethodGet {
		var (
			payload any
			err     error
		)
		switch kind {
		case "projects":
			payload, err = s.service.ListProjects(ctx, team)
		case "cycles":
			payload, err = s.service.ListCycles(ctx, team, r.URL.Query().Get("includeArchived") == "true")
		default:
			payload, err = s.service.ListLabels(ctx, team)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodGet && kind != "labels" {
		var (
			payload any
			err     error
		)
		if kind == "projects" {
			payload, err = s.service.GetProject(ctx, parts[1])
		} else {
			payload, err = s.service.GetCycle(ctx, parts[1])
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) > 2 || r.Method == http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.allow(w, r, session, rbac.ActionWrite) {
		return
	}

	var (
		payload any
		err     error
		status  = http.StatusOK
	)
	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		status = http.StatusCreated
		payload, err = s.createPlanning(r, kind)
	case len(parts) == 2 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		payload, err = s.updatePlanning(r, kind, parts[1])
	case len(parts) == 2 && r.Method == http.MethodDelete:
		switch kind {
		case "projects":
			err = s.service.DeleteProject(ctx, parts[1])
		case "cycles":
			err = s.service.DeleteCycle(ctx, parts[1])
		default:
			err = s.service.DeleteLabel(ctx, parts[1])
		}
		payload = map[string]any{"ok": true}
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) createPlanning(r *http.Request, kind string) (any, error) {
	switch kind {
	case "projects":
		var body CreateProjectInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateProject(r.Context(), body)
	case "cycles":
		var body CreateCycleInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateCycle(r.Context(), body)
	default:
		var body CreateLabelInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateLabel(r.Context(), body)
	}
}

func (s *HTTPServer) updatePlanning(r *http.Request, kind, id string) (any, error) {
	switch kind {
	case "projects":
		var patch store.ProjectPatch
		if err := decodeBody(r, &patch); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateProject(r.Context(), id, patch)
	case "cycles":
		var patch store.CyclePatch
		if err := decodeBody(r, &patch); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateCycle(r.Context(), id, patch)
	default:
		var patch store.LabelPatch
		if err := decodeBody(r, &patch); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateLabel(r.Context(), id, patch)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	offset, err := optionalInt(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
		return
	}
	resp, err := s.service.Search(r.Context(), search.Query{
		Text:   query.Get("q"),
		Team:   query.Get("team"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.service.UploadLimit()
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.service.cfg.UploadMaxFiles+1)*limit+maxUploadForm)
	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form data", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		if header.Size > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("%s exceeds the upload limit", header.Filename), nil)
			return
		}
		file, err := header.Open()
		if err != nil {
			s.fail(w, r, fmt.Errorf("open upload: %w", err))
			return
		}
		defer file.Close()
		uploads = append(uploads, Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
	}

	stored, err := s.service.Upload(r.Context(), uploads)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	urls := make([]string, len(stored))
	for i, f := range stored {
		urls[i] = f.URL
	}
	writeJSON(w, http.StatusCreated, map[string]any{"files": urls, "uploads": stored})
}

// requireSession resolves the acting user from X-User-ID, or the user query
// parameter for websocket upgrades where browsers cannot set headers.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	requested := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if requested == "" {
		requested = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	session, err := s.service.ResolveSession(r.Context(), requested)
	if err != nil {
		s.fail(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func invalidBody(err error) error {
	return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
