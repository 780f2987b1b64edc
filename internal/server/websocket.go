package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// stream is a server-to-client WebSocket. Clients only ever send close
// frames; anything else they send is discarded.
type stream struct {
	conn *websocket.Conn

	// gone is closed once the peer disconnects or sends a close frame.
	gone chan struct{}

	mu     sync.Mutex
	failed bool
}

// upgrade switches the request to a WebSocket and starts the read loop that
// detects the peer going away.
func upgrade(c echo.Context) (*stream, error) {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	s := &stream{conn: conn, gone: make(chan struct{})}
	go func() {
		defer close(s.gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return s, nil
}

// context returns a copy of parent that is cancelled when the peer leaves.
func (s *stream) context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.gone:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// send writes v as a JSON text frame. After the first failed write it
// drops every further frame and returns false.
func (s *stream) send(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return false
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.failed = true
		return false
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.failed = true
		return false
	}
	return true
}

// Close sends a normal close frame and closes the connection.
func (s *stream) Close() error {
	s.mu.Lock()
	if !s.failed {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // peer may be gone
	}
	s.mu.Unlock()
	return s.conn.Close()
}

// errorFrame is the terminal frame sent when an operation fails.
type errorFrame struct {
	Event string           `json:"event"`
	Data  errorFrameDetail `json:"data"`
}

type errorFrameDetail struct {
	Message string `json:"message"`
}

func newErrorFrame(err error) errorFrame {
	return errorFrame{Event: "error", Data: errorFrameDetail{Message: err.Error()}}
}

// isWebSocketRequest reports whether r asks for a protocol upgrade.
func isWebSocketRequest(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
