// Package tconntest contains fixtures for testing code built on tconn.
package tconntest

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/twire"
)

// Pipe returns two connected in-memory sockets.
// Frames written to one are read from the other, in order.
// Closing either end closes both,
// after which ReadFrame returns [io.EOF] and WriteFrame returns [net.ErrClosed].
// Like the stream transports, WriteFrame rejects frames over [twire.MaxFrameSize].
func Pipe() (*Socket, *Socket) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	l := &link{closed: make(chan struct{})}

	return &Socket{in: ba, out: ab, link: l}, &Socket{in: ab, out: ba, link: l}
}

type link struct {
	once   sync.Once
	closed chan struct{}
}

// Socket is one end of a [Pipe].
type Socket struct {
	in  <-chan []byte
	out chan<- []byte

	*link

	mu       sync.Mutex
	failNext error
}

var _ tconn.Socket = (*Socket)(nil)

func (s *Socket) WriteFrame(b []byte) error {
	s.mu.Lock()
	err := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(b) > twire.MaxFrameSize {
		return twire.FrameTooLargeError{Size: uint32(len(b))}
	}

	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}

	select {
	case <-s.closed:
		return net.ErrClosed
	case s.out <- append([]byte(nil), b...):
		return nil
	}
}

func (s *Socket) ReadFrame() ([]byte, error) {
	// Drain frames already written before reporting closure,
	// matching a stream socket closed after the peer's last write.
	select {
	case b := <-s.in:
		return b, nil
	default:
	}

	select {
	case b := <-s.in:
		return b, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *Socket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// IsClosed reports whether either end of the pipe has been closed.
func (s *Socket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// FailNextWrite causes the next WriteFrame call to return err
// without writing anything.
func (s *Socket) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// ReadMessage reads and decodes the next frame from s,
// failing the test if none arrives within a short time.
func ReadMessage(t testing.TB, s *Socket) twire.Message {
	t.Helper()

	select {
	case b := <-s.in:
		m, err := twire.Decode(b)
		if err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("no frame received")
		return nil
	}
}

// NoMessage fails the test if a frame is already waiting on s.
func NoMessage(t testing.TB, s *Socket) {
	t.Helper()

	select {
	case b := <-s.in:
		m, err := twire.Decode(b)
		t.Fatalf("unexpected frame: %#v (decode err: %v)", m, err)
	default:
	}
}

// WriteMessage encodes and writes m to s, failing the test on error.
func WriteMessage(t testing.TB, s *Socket, m twire.Message) {
	t.Helper()

	if err := s.WriteFrame(twire.Encode(m)); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}
