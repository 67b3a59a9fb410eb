package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// API keys, not cookies, authenticate the stream.
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamMessage is one frame on the search stream.
type StreamMessage struct {
	Type string             `json:"type"`
	Data models.JobSnapshot `json:"data"`
}

// NewStreamHandler returns an http.HandlerFunc for GET /api/v1/search/stream.
// It upgrades to a WebSocket, sends the current snapshot, then every newer one
// until the job is terminal or the client goes away.
func NewStreamHandler(trackers Trackers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := clientTracker(w, r, trackers)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		stream(r, conn, t)
	}
}

func stream(r *http.Request, conn *websocket.Conn, t *tracker.Tracker) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	sent, first := uint64(0), true
	for {
		changed := t.Changed()
		snap := t.Snapshot()

		if first || snap.Version > sent {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "snapshot", Data: snap}); err != nil {
				return
			}
			first, sent = false, snap.Version
		}

		if snap.Phase.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Phase))
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}

		select {
		case <-changed:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
