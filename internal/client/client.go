// Package client talks to the API server: records over HTTP and the team
// channel over a websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linear/api/internal/board"
	"linear/api/internal/model"
	"linear/api/internal/realtime"
)

// ErrStatus matches every *StatusError.
var ErrStatus = errors.New("unexpected status")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Client is the API client.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a function that configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// New creates a client for the server at baseURL acting as userID. An empty
// userID lets the server pick its placeholder identity.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  strings.TrimSpace(userID),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Identity struct {
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	Role     model.Role `json:"role"`
}

// Whoami returns the identity the server resolved for this client.
func (c *Client) Whoami(ctx context.Context) (Identity, error) {
	var id Identity
	if err := c.doRequest(ctx, http.MethodGet, "/api/session", nil, &id); err != nil {
		return Identity{}, fmt.Errorf("get session: %w", err)
	}
	return id, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.doRequest(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (c *Client) ListTeams(ctx context.Context) ([]model.Team, error) {
	var teams []model.Team
	if err := c.doRequest(ctx, http.MethodGet, "/api/teams", nil, &teams); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// Board fetches a team's tickets grouped by column.
func (c *Client) Board(ctx context.Context, team string) (board.Snapshot, error) {
	var snapshot board.Snapshot
	if err := c.doRequest(ctx, http.MethodGet, "/api/teams/"+url.PathEscape(team)+"/board", nil, &snapshot); err != nil {
		return nil, fmt.Errorf("get board: %w", err)
	}
	return snapshot, nil
}

func (c *Client) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	var ticket model.Ticket
	if err := c.doRequest(ctx, http.MethodGet, "/api/tickets/"+url.PathEscape(id), nil, &ticket); err != nil {
		return model.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return ticket, nil
}

// NewTicket is the body of a ticket create request.
type NewTicket struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      model.Status `json:"status,omitempty"`
	Priority    string       `json:"priority,omitempty"`
	Team        model.Ref    `json:"team"`
	Assignee    model.Ref    `json:"assignee,omitempty"`
	Labels      model.Refs   `json:"labels,omitempty"`
}

func (c *Client) CreateTicket(ctx context.Context, input NewTicket) (model.Ticket, error) {
	var ticket model.Ticket
	if err := c.doRequest(ctx, http.MethodPost, "/api/tickets", input, &ticket); err != nil {
		return model.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	return ticket, nil
}

// UpdateTicketStatus persists a column change. It is the record side of a
// board move.
func (c *Client) UpdateTicketStatus(ctx context.Context, id string, status model.Status) (model.Ticket, error) {
	var ticket model.Ticket
	body := map[string]any{"status": status}
	if err := c.doRequest(ctx, http.MethodPatch, "/api/tickets/"+url.PathEscape(id), body, &ticket); err != nil {
		return model.Ticket{}, fmt.Errorf("update ticket status: %w", err)
	}
	return ticket, nil
}

func (c *Client) ListComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	var comments []model.Comment
	if err := c.doRequest(ctx, http.MethodGet, "/api/tickets/"+url.PathEscape(ticketID)+"/comments", nil, &comments); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// NewComment is the body of a comment create request. A nil Mentions asks
// the server to resolve them.
type NewComment struct {
	Body        string      `json:"body"`
	Parent      model.Ref   `json:"parent,omitempty"`
	Mentions    *model.Refs `json:"mentions,omitempty"`
	Attachments []string    `json:"attachments,omitempty"`
}

func (c *Client) CreateComment(ctx context.Context, ticketID string, input NewComment) (model.Comment, error) {
	var comment model.Comment
	if err := c.doRequest(ctx, http.MethodPost, "/api/tickets/"+url.PathEscape(ticketID)+"/comments", input, &comment); err != nil {
		return model.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// React applies an explicit "add" or "remove" of emoji for user.
func (c *Client) React(ctx context.Context, commentID, emoji, user, action string) (model.Comment, error) {
	var comment model.Comment
	body := map[string]string{"emoji": emoji, "userId": user, "action": action}
	if err := c.doRequest(ctx, http.MethodPatch, "/api/comments/"+url.PathEscape(commentID)+"/reaction", body, &comment); err != nil {
		return model.Comment{}, fmt.Errorf("react: %w", err)
	}
	return comment, nil
}

// Export downloads a rendered ticket and returns its bytes and file name.
func (c *Client) Export(ctx context.Context, ticketID, format string) ([]byte, string, error) {
	path := "/api/tickets/" + url.PathEscape(ticketID) + "/export?format=" + url.QueryEscape(format)
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("export ticket: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read export: %w", err)
	}
	name := ticketID + "." + format
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return data, name, nil
}

// EventsURL is the websocket endpoint of a team channel.
func (c *Client) EventsURL(team string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u := base + "/api/teams/" + url.PathEscape(team) + "/events"
	if c.userID != "" {
		u += "?user=" + url.QueryEscape(c.userID)
	}
	return u
}

// Join opens the team channel through the server's websocket relay.
func (c *Client) Join(ctx context.Context, team string) (realtime.Conn, error) {
	header := http.Header{}
	if c.userID != "" {
		header.Set("X-User-ID", c.userID)
	}
	return realtime.Dial(ctx, c.EventsURL(team), team, header, c.logger)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into *StatusError.
// The caller owns the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	statusErr := &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &payload) == nil {
		statusErr.Code = payload.Code
		if payload.Error != "" {
			statusErr.Message = payload.Error
		}
	}
	return nil, statusErr
}
