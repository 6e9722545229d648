package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	maxFrameBytes = 1 << 20
)

// Hub relays a team channel to websocket clients. Frames in both directions
// are JSON Events; inbound frames are published to the team the socket
// joined, whatever team they claim.
type Hub struct {
	joiner   Joiner
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(joiner Joiner, allowedOrigin string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		joiner: joiner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		logger: logger.With("component", "realtime.hub"),
	}
}

// Serve upgrades the request and relays team until either side hangs up.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, team string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "team", team, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := h.joiner.Join(ctx, team)
	if err != nil {
		h.logger.Error("join team channel", "team", team, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "join failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer conn.Close()

	h.logger.Info("client joined", "team", team, "remote", r.RemoteAddr)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ctx, ws, conn)
	}()

	h.readPump(ctx, ws, conn)
	cancel()
	<-writerDone
	h.logger.Info("client left", "team", team, "remote", r.RemoteAddr)
}

func (h *Hub) readPump(ctx context.Context, ws *websocket.Conn, conn Conn) {
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read", "team", conn.Team(), "error", err)
			}
			return
		}
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			h.logger.Warn("drop malformed frame", "team", conn.Team(), "error", err)
			continue
		}
		if err := conn.Publish(ctx, event); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			h.logger.Warn("relay event", "team", conn.Team(), "kind", event.Kind, "error", err)
		}
	}
}

func (h *Hub) writePump(ctx context.Context, ws *websocket.Conn, conn Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case event, ok := <-conn.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "team channel closed"))
				return
			}
			if err := ws.WriteJSON(event); err != nil {
				h.logger.Warn("websocket write", "team", conn.Team(), "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
