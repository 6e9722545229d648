package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"linear/api/internal/model"
)

// Dial connects to a Hub endpoint and returns the socket as a Conn for team.
func Dial(ctx context.Context, wsURL, team string, header http.Header, logger *slog.Logger) (Conn, error) {
	ref := model.NormalizeRef(team)
	if ref.IsZero() {
		return nil, ErrNoTeam
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed: status=%d, err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn := &wsConn{
		ws:     ws,
		team:   ref,
		events: make(chan Event, eventBufSize),
		send:   make(chan Event, eventBufSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "realtime.ws", "team", ref),
	}
	go conn.readPump()
	go conn.writePump()
	return conn, nil
}

type wsConn struct {
	ws     *websocket.Conn
	team   model.Ref
	events chan Event
	send   chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (c *wsConn) Team() string         { return c.team.String() }
func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Publish(ctx context.Context, event Event) error {
	event.Team = c.team
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- event:
		return nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readPump() {
	defer close(c.events)
	defer c.Close()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("team channel disconnected", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("drop malformed frame", "error", err)
			continue
		}
		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				c.logger.Warn("websocket write", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}
