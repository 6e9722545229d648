package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"linear/api/internal/board"
	"linear/api/internal/mention"
	"linear/api/internal/model"
	"linear/api/internal/reaction"
	"linear/api/internal/realtime"
	"linear/api/internal/thread"
)

var (
	ErrNoTeam       = errors.New("no team selected")
	ErrEmptyComment = errors.New("comment body is empty")
	ErrClosed       = errors.New("session closed")
)

// Records is the record store surface a Session needs. *Client satisfies it.
type Records interface {
	board.TicketUpdater
	Whoami(ctx context.Context) (Identity, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	Board(ctx context.Context, team string) (board.Snapshot, error)
	CreateTicket(ctx context.Context, input NewTicket) (model.Ticket, error)
	ListComments(ctx context.Context, ticketID string) ([]model.Comment, error)
	CreateComment(ctx context.Context, ticketID string, input NewComment) (model.Comment, error)
	React(ctx context.Context, commentID, emoji, user, action string) (model.Comment, error)
}

// Observer sees every event delivered on the team channel and whether it
// changed the board.
type Observer func(event realtime.Event, changed bool)

// Session is one user's view of one team at a time: the board, its
// subscription and the commands a UI issues against them. The connection
// handle belongs to the session and is replaced whenever the team changes.
type Session struct {
	records Records
	joiner  realtime.Joiner
	board   *board.Board
	logger  *slog.Logger

	mu        sync.Mutex
	me        Identity
	users     []model.User
	team      string
	conn      realtime.Conn
	coord     *board.Coordinator
	stop      context.CancelFunc
	done      chan struct{}
	connected bool
	closed    bool
	observer  Observer
	onComment func(issue model.Ref)
}

func NewSession(records Records, joiner realtime.Joiner, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		records: records,
		joiner:  joiner,
		board:   board.New(),
		logger:  logger.With("component", "client.session"),
	}
}

// Observe registers fn for every channel event. Set it before SwitchTeam.
func (s *Session) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// OnComment registers fn for comment events so a UI can refetch a thread.
func (s *Session) OnComment(fn func(issue model.Ref)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComment = fn
}

func (s *Session) Team() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team
}

func (s *Session) Me() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.me
}

// Connected reports whether the team channel is live. After a disconnect
// the board may be stale until Resync.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Snapshot is a copy of the board for rendering.
func (s *Session) Snapshot() board.Snapshot {
	return s.board.Snapshot()
}

// SwitchTeam leaves the current team channel, joins team and loads its
// board. The channel is joined before the board is fetched so no event
// falls between the two.
func (s *Session) SwitchTeam(ctx context.Context, team string) error {
	team = strings.TrimSpace(team)
	if team == "" {
		return ErrNoTeam
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.leave()

	me, err := s.records.Whoami(ctx)
	if err != nil {
		return err
	}
	users, err := s.records.ListUsers(ctx)
	if err != nil {
		return err
	}
	conn, err := s.joiner.Join(ctx, team)
	if err != nil {
		return fmt.Errorf("join team %s: %w", team, err)
	}
	snapshot, err := s.records.Board(ctx, team)
	if err != nil {
		_ = conn.Close()
		return err
	}

	s.board.Update(func(st *board.Store) { st.ReplaceAll(snapshot) })
	s.attach(team, conn, me, users)
	s.logger.Info("joined team", "team", team, "user", me.UserID)
	return nil
}

// Resync reloads the board and rejoins the channel if it dropped. It is
// the recovery path after a transport failure.
func (s *Session) Resync(ctx context.Context) error {
	s.mu.Lock()
	team, connected := s.team, s.connected
	s.mu.Unlock()
	if team == "" {
		return ErrNoTeam
	}
	if !connected {
		return s.SwitchTeam(ctx, team)
	}
	snapshot, err := s.records.Board(ctx, team)
	if err != nil {
		return err
	}
	s.board.Update(func(st *board.Store) { st.ReplaceAll(snapshot) })
	return nil
}

// MoveTicket applies a drag to the board, persists it and announces it.
func (s *Session) MoveTicket(ctx context.Context, drag board.Drag) (board.MoveResult, error) {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return board.MoveResult{}, ErrNoTeam
	}
	return coord.Move(ctx, drag)
}

// CreateTicket files a ticket in the current team and shows it at the head
// of its column. The server's announcement of the same ticket is a no-op.
func (s *Session) CreateTicket(ctx context.Context, input NewTicket) (model.Ticket, error) {
	team := s.Team()
	if team == "" {
		return model.Ticket{}, ErrNoTeam
	}
	input.Team = model.NormalizeRef(team)
	ticket, err := s.records.CreateTicket(ctx, input)
	if err != nil {
		return model.Ticket{}, err
	}
	if ticket.Status.Valid() {
		s.board.Update(func(st *board.Store) { st.Insert(ticket.Status, ticket, 0) })
	}
	return ticket, nil
}

// Thread returns the reply forest of a ticket.
func (s *Session) Thread(ctx context.Context, ticketID string) ([]*thread.Node, error) {
	comments, err := s.records.ListComments(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return thread.Build(comments), nil
}

// SubmitComment posts a root comment. Mentions are resolved here against
// the user directory and stored as given.
func (s *Session) SubmitComment(ctx context.Context, ticketID, body string, attachments ...string) (model.Comment, error) {
	return s.submit(ctx, ticketID, "", body, attachments)
}

func (s *Session) SubmitReply(ctx context.Context, ticketID, parentID, body string, attachments ...string) (model.Comment, error) {
	if model.NormalizeRef(parentID).IsZero() {
		return model.Comment{}, fmt.Errorf("reply needs a parent comment")
	}
	return s.submit(ctx, ticketID, parentID, body, attachments)
}

func (s *Session) submit(ctx context.Context, ticketID, parentID, body string, attachments []string) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return model.Comment{}, ErrEmptyComment
	}
	s.mu.Lock()
	users := s.users
	s.mu.Unlock()
	if users == nil {
		loaded, err := s.records.ListUsers(ctx)
		if err != nil {
			return model.Comment{}, err
		}
		s.mu.Lock()
		s.users = loaded
		s.mu.Unlock()
		users = loaded
	}

	mentions := make(model.Refs, 0)
	for _, id := range mention.Resolve(body, users) {
		mentions = append(mentions, model.Ref(id))
	}
	return s.records.CreateComment(ctx, ticketID, NewComment{
		Body:        body,
		Parent:      model.NormalizeRef(parentID),
		Mentions:    &mentions,
		Attachments: attachments,
	})
}

// ToggleReaction flips the session user's emoji on comment. Membership is
// checked here and the server is told to add or remove explicitly.
func (s *Session) ToggleReaction(ctx context.Context, comment model.Comment, emoji string) (model.Comment, error) {
	me := s.Me()
	if me.UserID == "" {
		identity, err := s.records.Whoami(ctx)
		if err != nil {
			return model.Comment{}, err
		}
		s.mu.Lock()
		s.me = identity
		s.mu.Unlock()
		me = identity
	}
	action := "add"
	if reaction.Has(comment.Reactions, emoji, me.UserID) {
		action = "remove"
	}
	return s.records.React(ctx, comment.ID, emoji, me.UserID, action)
}

// Close leaves the team channel. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.leave()
	return nil
}

func (s *Session) attach(team string, conn realtime.Conn, me Identity, users []model.User) {
	recon := board.NewReconciler(s.board, team, s.logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.team = team
	s.conn = conn
	s.me = me
	s.users = users
	s.coord = board.NewCoordinator(s.board, s.records, conn, team, s.logger)
	s.stop = cancel
	s.done = done
	s.connected = true
	observer, onComment := s.observer, s.onComment
	s.mu.Unlock()

	if onComment != nil {
		recon.OnComment(onComment)
	}
	go s.pump(ctx, conn, recon, observer, done)
}

func (s *Session) pump(ctx context.Context, conn realtime.Conn, recon *board.Reconciler, observer Observer, done chan struct{}) {
	defer close(done)
	if observer != nil {
		recon.Observe(observer)
	}
	if err := recon.Run(ctx, conn.Events()); errors.Is(err, board.ErrChannelClosed) {
		s.mu.Lock()
		if s.conn == conn {
			s.connected = false
		}
		s.mu.Unlock()
		s.logger.Warn("team channel closed, resync required", "team", conn.Team())
	}
}

func (s *Session) leave() {
	s.mu.Lock()
	conn, stop, done := s.conn, s.stop, s.done
	s.conn, s.stop, s.done, s.coord = nil, nil, nil, nil
	s.connected = false
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close team channel", "error", err)
		}
	}
	if done != nil {
		<-done
	}
}
