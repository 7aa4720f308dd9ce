// Package tws carries peer connections over WebSocket,
// one binary message per frame.
package tws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/twire"
	"github.com/gorilla/websocket"
)

// closeTimeout bounds how long Close waits to send the close message.
const closeTimeout = time.Second

// Socket is a [tconn.Socket] over a WebSocket connection.
type Socket struct {
	conn *websocket.Conn

	// gorilla/websocket allows one concurrent writer.
	// Close and WriteControl are exempt.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ tconn.Socket = (*Socket)(nil)

// New wraps an established connection.
// Reads larger than [twire.MaxFrameSize] fail.
func New(conn *websocket.Conn) *Socket {
	conn.SetReadLimit(twire.MaxFrameSize)
	return &Socket{conn: conn}
}

// Dial opens a WebSocket connection to url with the given request header.
// A nil dialer uses [websocket.DefaultDialer].
func Dial(ctx context.Context, d *websocket.Dialer, url string, header http.Header) (*Socket, error) {
	if d == nil {
		d = websocket.DefaultDialer
	}

	conn, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return New(conn), nil
}

func (s *Socket) WriteFrame(b []byte) error {
	if len(b) > twire.MaxFrameSize {
		return twire.FrameTooLargeError{Size: uint32(len(b))}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

// ReadFrame returns the next binary message.
// A normal close from the remote is reported as [io.EOF].
func (s *Socket) ReadFrame() ([]byte, error) {
	typ, b, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}

	if typ != websocket.BinaryMessage {
		return nil, errors.New("received non-binary websocket message")
	}
	return b, nil
}

// Close sends a close message, best effort, and closes the connection.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout),
		)

		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
