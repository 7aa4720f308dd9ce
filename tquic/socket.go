package tquic

import (
	"errors"
	"io"
	"sync"

	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/twire"
	"github.com/quic-go/quic-go"
)

// Application error codes used when closing a QUIC connection.
const (
	closeNormal          quic.ApplicationErrorCode = 0
	closeHandshakeFailed quic.ApplicationErrorCode = 1
)

// Socket is a [tconn.Socket] over the single bidirectional stream
// of a QUIC connection.
type Socket struct {
	conn   *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
	closeErr  error
}

var _ tconn.Socket = (*Socket)(nil)

func newSocket(conn *quic.Conn, stream *quic.Stream) *Socket {
	return &Socket{conn: conn, stream: stream}
}

func (s *Socket) WriteFrame(b []byte) error {
	return twire.WriteFrame(s.stream, b)
}

// ReadFrame returns [io.EOF] once the remote has closed the connection normally.
func (s *Socket) ReadFrame() ([]byte, error) {
	b, err := twire.ReadFrame(s.stream)
	if err != nil {
		var appErr *quic.ApplicationError
		if errors.As(err, &appErr) && appErr.ErrorCode == closeNormal {
			return nil, io.EOF
		}
		return nil, err
	}
	return b, nil
}

// Close closes the whole QUIC connection, unblocking any pending ReadFrame.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.CloseWithError(closeNormal, "closing")
	})
	return s.closeErr
}
