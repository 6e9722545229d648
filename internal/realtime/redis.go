package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

var (
	ErrClosed   = errors.New("connection closed")
	ErrNoTeam   = errors.New("team is required")
	ErrBadEvent = errors.New("invalid event")
)

const eventBufSize = 64

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBus carries team channels over Redis Pub/Sub, one Redis channel per
// team. It implements Joiner.
type RedisBus struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     *slog.Logger
}

func NewRedisBus(client *redis.Client, prefix string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "linear"
	}
	return &RedisBus{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "realtime.redis"),
	}
}

func (b *RedisBus) channel(team string) string {
	return b.prefix + ":team:" + team
}

// Publish sends event to its team's channel. Missing id, origin and
// timestamp are filled in.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	if event.Team.IsZero() {
		return ErrNoTeam
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrBadEvent, event.Kind)
	}
	if event.ID == "" {
		event.ID = util.NewID("evt")
	}
	if event.Origin == "" {
		event.Origin = b.instanceID
	}
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(event.Team.String()), data).Err(); err != nil {
		b.logger.Error("publish event", "team", event.Team, "kind", event.Kind, "error", err)
		return fmt.Errorf("publish event: %w", err)
	}
	b.logger.Debug("event published", "team", event.Team, "kind", event.Kind, "id", event.ID)
	return nil
}

// Join subscribes to a team channel. The subscription is live when Join
// returns.
func (b *RedisBus) Join(ctx context.Context, team string) (Conn, error) {
	ref := model.NormalizeRef(team)
	if ref.IsZero() {
		return nil, ErrNoTeam
	}
	channel := b.channel(ref.String())
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.logger.Debug("joined team channel", "channel", channel)

	conn := &redisConn{
		bus:    b,
		team:   ref,
		pubsub: pubsub,
		events: make(chan Event, eventBufSize),
		done:   make(chan struct{}),
	}
	go conn.pump()
	return conn, nil
}

type redisConn struct {
	bus    *RedisBus
	team   model.Ref
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (c *redisConn) Team() string         { return c.team.String() }
func (c *redisConn) Events() <-chan Event { return c.events }

func (c *redisConn) Publish(ctx context.Context, event Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	event.Team = c.team
	return c.bus.Publish(ctx, event)
}

func (c *redisConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
	})
	return err
}

func (c *redisConn) pump() {
	defer close(c.events)
	messages := c.pubsub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-messages:
			if !ok {
				c.bus.logger.Warn("team channel closed", "team", c.team)
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.bus.logger.Warn("drop malformed event", "team", c.team, "error", err)
				continue
			}
			if event.Team != c.team {
				continue
			}
			select {
			case c.events <- event:
			case <-c.done:
				return
			}
		}
	}
}
