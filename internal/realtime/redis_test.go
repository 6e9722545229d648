package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linear/api/internal/model"
)

func newTestBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, "test", nil), s
}

func receive(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case event, ok := <-conn.Events():
		require.True(t, ok, "events channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestPublisherReceivesOwnEvent(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	conn, err := bus.Join(ctx, "team_eng")
	require.NoError(t, err)
	defer conn.Close()

	ticket := model.Ticket{ID: "ENG-1", Status: model.StatusDone}
	require.NoError(t, conn.Publish(ctx, MoveEvent("ignored", ticket, model.StatusTodo, model.StatusDone)))

	got := receive(t, conn)
	assert.Equal(t, KindTicketMoved, got.Kind)
	assert.Equal(t, model.Ref("team_eng"), got.Team, "conn pins the team")
	assert.Equal(t, model.Ref("ENG-1"), got.TicketID)
	assert.Equal(t, model.StatusDone, got.NewStatus)
	assert.NotEmpty(t, got.ID)
	assert.NotEmpty(t, got.Origin)
	require.NotNil(t, got.Ticket)
	assert.Equal(t, "ENG-1", got.Ticket.ID)
}

func TestTeamsAreIsolated(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	eng, err := bus.Join(ctx, "team_eng")
	require.NoError(t, err)
	defer eng.Close()
	ops, err := bus.Join(ctx, "team_ops")
	require.NoError(t, err)
	defer ops.Close()

	require.NoError(t, bus.Publish(ctx, TicketEvent(KindTicketCreated, "team_ops", model.Ticket{ID: "OPS-1", Status: model.StatusTodo})))

	got := receive(t, ops)
	assert.Equal(t, model.Ref("OPS-1"), got.TicketID)

	select {
	case event := <-eng.Events():
		t.Fatalf("unexpected event on other team: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishValidates(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	assert.ErrorIs(t, bus.Publish(ctx, Event{Kind: KindTicketCreated}), ErrNoTeam)
	assert.ErrorIs(t, bus.Publish(ctx, Event{Kind: "bogus", Team: "team_eng"}), ErrBadEvent)

	_, err := bus.Join(ctx, "  ")
	assert.ErrorIs(t, err, ErrNoTeam)
}

func TestCloseEndsEvents(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	conn, err := bus.Join(ctx, "team_eng")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case _, ok := <-conn.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
	assert.ErrorIs(t, conn.Publish(ctx, TicketEvent(KindTicketCreated, "team_eng", model.Ticket{ID: "ENG-1"})), ErrClosed)
}

func TestMalformedPayloadIsSkipped(t *testing.T) {
	bus, s := newTestBus(t)
	ctx := context.Background()

	conn, err := bus.Join(ctx, "team_eng")
	require.NoError(t, err)
	defer conn.Close()

	s.Publish("test:team:team_eng", "{not json")
	require.NoError(t, bus.Publish(ctx, TicketEvent(KindTicketDeleted, "team_eng", model.Ticket{ID: "ENG-2"})))

	got := receive(t, conn)
	assert.Equal(t, KindTicketDeleted, got.Kind)
}
