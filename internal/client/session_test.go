package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linear/api/internal/board"
	"linear/api/internal/model"
	"linear/api/internal/reaction"
	"linear/api/internal/realtime"
)

// memBus is an in-process team channel: every Conn on a team receives every
// event published on it, its own included.
type memBus struct {
	mu    sync.Mutex
	conns map[string][]*memConn
	joins int
}

func newMemBus() *memBus { return &memBus{conns: make(map[string][]*memConn)} }

func (b *memBus) Join(_ context.Context, team string) (realtime.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins++
	c := &memConn{bus: b, team: team, events: make(chan realtime.Event, 64)}
	b.conns[team] = append(b.conns[team], c)
	return c, nil
}

func (b *memBus) publish(event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns[event.Team.String()] {
		c.events <- event
	}
}

// drop ends every subscription of team as a transport failure would.
func (b *memBus) drop(team string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns[team] {
		c.closeLocked()
	}
	b.conns[team] = nil
}

type memConn struct {
	bus    *memBus
	team   string
	events chan realtime.Event
	once   sync.Once
}

func (c *memConn) Team() string                  { return c.team }
func (c *memConn) Events() <-chan realtime.Event { return c.events }
func (c *memConn) Publish(_ context.Context, event realtime.Event) error {
	event.Team = model.NormalizeRef(c.team)
	c.bus.publish(event)
	return nil
}
func (c *memConn) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	kept := c.bus.conns[c.team][:0]
	for _, other := range c.bus.conns[c.team] {
		if other != c {
			kept = append(kept, other)
		}
	}
	c.bus.conns[c.team] = kept
	c.closeLocked()
	return nil
}
func (c *memConn) closeLocked() { c.once.Do(func() { close(c.events) }) }

type fakeRecords struct {
	mu        sync.Mutex
	boards    map[string]board.Snapshot
	updateErr error
	comments  []NewComment
	reacts    []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{boards: map[string]board.Snapshot{
		"team-eng": {
			model.StatusTodo: {
				{ID: "A", Title: "A", Status: model.StatusTodo, Team: "team-eng"},
				{ID: "B", Title: "B", Status: model.StatusTodo, Team: "team-eng"},
			},
			model.StatusDone: {},
		},
		"team-ops": {
			model.StatusInProgress: {{ID: "OPS-1", Status: model.StatusInProgress, Team: "team-ops"}},
		},
	}}
}

func (f *fakeRecords) Whoami(context.Context) (Identity, error) {
	return Identity{UserID: "usr-ada", UserName: "Ada Lovelace", Role: model.RoleMember}, nil
}

func (f *fakeRecords) ListUsers(context.Context) ([]model.User, error) {
	return []model.User{{ID: "u1", Name: "John Smith"}, {ID: "usr-ada", Name: "Ada Lovelace"}}, nil
}

func (f *fakeRecords) Board(_ context.Context, team string) (board.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.boards[team]
	if !ok {
		return nil, errors.New("unknown team")
	}
	return snapshot, nil
}

func (f *fakeRecords) UpdateTicketStatus(_ context.Context, id string, status model.Status) (model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return model.Ticket{}, f.updateErr
	}
	return model.Ticket{ID: id, Title: id, Status: status, Team: "team-eng", Version: 2}, nil
}

func (f *fakeRecords) CreateTicket(_ context.Context, input NewTicket) (model.Ticket, error) {
	return model.Ticket{ID: "C", Title: input.Title, Status: model.StatusTodo, Team: input.Team}, nil
}

func (f *fakeRecords) ListComments(context.Context, string) ([]model.Comment, error) {
	return []model.Comment{
		{ID: "1", Issue: "A"},
		{ID: "2", Issue: "A", Parent: "1"},
		{ID: "3", Issue: "A", Parent: "2"},
	}, nil
}

func (f *fakeRecords) CreateComment(_ context.Context, ticketID string, input NewComment) (model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, input)
	c := model.Comment{ID: "cmt-new", Issue: model.Ref(ticketID), Body: input.Body, Parent: input.Parent}
	if input.Mentions != nil {
		c.Mentions = *input.Mentions
	}
	return c, nil
}

func (f *fakeRecords) React(_ context.Context, commentID, emoji, user, action string) (model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacts = append(f.reacts, action)
	c := model.Comment{ID: commentID}
	if action == "add" {
		c.Reactions = reaction.Add(nil, emoji, user)
	}
	return c, nil
}

func ids(tickets []model.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *memBus, *fakeRecords) {
	t.Helper()
	bus := newMemBus()
	records := newFakeRecords()
	s := NewSession(records, bus, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, bus, records
}

func TestSessionRequiresTeam(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.MoveTicket(context.Background(), board.Drag{From: model.StatusTodo, To: model.StatusDone})
	assert.ErrorIs(t, err, ErrNoTeam)
	assert.ErrorIs(t, s.Resync(context.Background()), ErrNoTeam)
}

func TestSessionMoveEndToEnd(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.SwitchTeam(context.Background(), "team-eng"))
	assert.True(t, s.Connected())

	result, err := s.MoveTicket(context.Background(), board.Drag{From: model.StatusTodo, FromIndex: 0, To: model.StatusDone, ToIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, board.OutcomePersisted, result.Outcome)

	snap := s.Snapshot()
	assert.Equal(t, []string{"B"}, ids(snap[model.StatusTodo]))
	assert.Equal(t, []string{"A"}, ids(snap[model.StatusDone]))

	// The echoed move event is a no-op on the mover's own board.
	time.Sleep(50 * time.Millisecond)
	snap = s.Snapshot()
	assert.Equal(t, []string{"B"}, ids(snap[model.StatusTodo]))
	assert.Equal(t, []string{"A"}, ids(snap[model.StatusDone]))
}

func TestSessionPeerSeesMove(t *testing.T) {
	bus := newMemBus()
	records := newFakeRecords()
	mover := NewSession(records, bus, nil)
	peer := NewSession(records, bus, nil)
	defer mover.Close()
	defer peer.Close()

	applied := make(chan realtime.Event, 4)
	peer.Observe(func(event realtime.Event, changed bool) {
		if changed {
			applied <- event
		}
	})
	require.NoError(t, mover.SwitchTeam(context.Background(), "team-eng"))
	require.NoError(t, peer.SwitchTeam(context.Background(), "team-eng"))

	_, err := mover.MoveTicket(context.Background(), board.Drag{From: model.StatusTodo, FromIndex: 1, To: model.StatusDone, ToIndex: 0})
	require.NoError(t, err)

	select {
	case event := <-applied:
		assert.Equal(t, realtime.KindTicketMoved, event.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never applied the move")
	}
	snap := peer.Snapshot()
	assert.Equal(t, []string{"A"}, ids(snap[model.StatusTodo]))
	assert.Equal(t, []string{"B"}, ids(snap[model.StatusDone]))
}

func TestSessionMoveFailureReverts(t *testing.T) {
	s, _, records := newTestSession(t)
	require.NoError(t, s.SwitchTeam(context.Background(), "team-eng"))
	records.updateErr = errors.New("database unavailable")

	result, err := s.MoveTicket(context.Background(), board.Drag{From: model.StatusTodo, FromIndex: 0, To: model.StatusDone, ToIndex: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, board.ErrMoveFailed)
	assert.Equal(t, board.OutcomeReverted, result.Outcome)

	snap := s.Snapshot()
	assert.Equal(t, []string{"A", "B"}, ids(snap[model.StatusTodo]))
	assert.Empty(t, snap[model.StatusDone])
}

func TestSessionSwitchTeamResubscribes(t *testing.T) {
	s, bus, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.SwitchTeam(ctx, "team-eng"))
	require.NoError(t, s.SwitchTeam(ctx, "team-ops"))

	assert.Equal(t, "team-ops", s.Team())
	assert.Equal(t, 2, bus.joins)
	bus.mu.Lock()
	assert.Empty(t, bus.conns["team-eng"], "old team channel must be left")
	assert.Len(t, bus.conns["team-ops"], 1)
	bus.mu.Unlock()

	snap := s.Snapshot()
	assert.Equal(t, []string{"OPS-1"}, ids(snap[model.StatusInProgress]))
	assert.Empty(t, snap[model.StatusTodo])
}

func TestSessionResyncAfterDisconnect(t *testing.T) {
	s, bus, records := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.SwitchTeam(ctx, "team-eng"))

	bus.drop("team-eng")
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)

	records.mu.Lock()
	records.boards["team-eng"] = board.Snapshot{model.StatusDone: {{ID: "A", Status: model.StatusDone, Team: "team-eng"}}}
	records.mu.Unlock()

	require.NoError(t, s.Resync(ctx))
	assert.True(t, s.Connected())
	assert.Equal(t, 2, bus.joins)
	assert.Equal(t, []string{"A"}, ids(s.Snapshot()[model.StatusDone]))
}

func TestSessionCreateTicketIsIdempotentWithAnnouncement(t *testing.T) {
	s, bus, _ := newTestSession(t)
	require.NoError(t, s.SwitchTeam(context.Background(), "team-eng"))

	ticket, err := s.CreateTicket(context.Background(), NewTicket{Title: "C"})
	require.NoError(t, err)
	bus.publish(realtime.TicketEvent(realtime.KindTicketCreated, "team-eng", ticket))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"C", "A", "B"}, ids(s.Snapshot()[model.StatusTodo]))
}

func TestSessionThreadIsThreeLevelsDeep(t *testing.T) {
	s, _, _ := newTestSession(t)
	roots, err := s.Thread(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Replies, 1)
	require.Len(t, roots[0].Replies[0].Replies, 1)
	assert.Equal(t, "3", roots[0].Replies[0].Replies[0].ID)
}

func TestSessionSubmitCommentResolvesMentions(t *testing.T) {
	s, _, records := newTestSession(t)
	require.NoError(t, s.SwitchTeam(context.Background(), "team-eng"))

	comment, err := s.SubmitComment(context.Background(), "A", "hey @john and @nonexistent, check this")
	require.NoError(t, err)
	assert.Equal(t, model.Refs{"u1"}, comment.Mentions)

	reply, err := s.SubmitReply(context.Background(), "A", "cmt-new", "thanks")
	require.NoError(t, err)
	assert.Equal(t, model.Ref("cmt-new"), reply.Parent)
	require.Len(t, records.comments, 2)
	require.NotNil(t, records.comments[1].Mentions)
	assert.Empty(t, *records.comments[1].Mentions, "an empty resolution is sent, not left to the server")

	_, err = s.SubmitComment(context.Background(), "A", "   ")
	assert.ErrorIs(t, err, ErrEmptyComment)
}

func TestSessionToggleReactionPicksAction(t *testing.T) {
	s, _, records := newTestSession(t)
	ctx := context.Background()

	comment := model.Comment{ID: "cmt-1"}
	updated, err := s.ToggleReaction(ctx, comment, "👍")
	require.NoError(t, err)
	assert.True(t, reaction.Has(updated.Reactions, "👍", "usr-ada"))

	_, err = s.ToggleReaction(ctx, updated, "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "remove"}, records.reacts)
}

func TestSessionSubmitCommentWithoutTeamLoadsDirectory(t *testing.T) {
	s, _, _ := newTestSession(t)
	comment, err := s.SubmitComment(context.Background(), "A", "@ada please review")
	require.NoError(t, err)
	assert.Equal(t, model.Refs{"usr-ada"}, comment.Mentions)
}
