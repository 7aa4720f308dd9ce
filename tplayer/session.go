package tplayer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionGone is returned from [*Session.Deliver]
// when the player's client task has already stopped.
var ErrSessionGone = errors.New("player session is gone")

// ErrMoved is returned when a [*Handle] no longer owns its session.
var ErrMoved = errors.New("session already moved out of handle")

// Session is the descriptor of one connected player.
//
// The session is owned by exactly one component at a time:
// the local session pump, an actor's OnPeer entry, or nobody while in flight.
// Ownership is transferred through [*Handle].
type Session struct {
	// Unique per connection of the client, for correlating logs.
	ID uuid.UUID

	Player ID

	// The features the player's client supports.
	Capabilities Capabilities

	requests <-chan Request
	events   chan<- Event
	done     <-chan struct{}

	mu     sync.Mutex
	avatar Avatar
}

// SessionConfig is the configuration for [NewSession].
type SessionConfig struct {
	Player       ID
	Capabilities Capabilities
	Avatar       Avatar

	// Requests from the client.
	// The channel is closed when the client disconnects.
	Requests <-chan Request

	// Events to the client.
	// Should be buffered; a full channel applies backpressure to the sender.
	Events chan<- Event

	// Closed when the client task stops.
	Done <-chan struct{}
}

// NewSession returns a session descriptor with a fresh ID.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Requests == nil || cfg.Events == nil || cfg.Done == nil {
		panic(errors.New("BUG: SessionConfig requires Requests, Events and Done channels"))
	}

	return &Session{
		ID: uuid.New(),

		Player:       cfg.Player,
		Capabilities: cfg.Capabilities,

		requests: cfg.Requests,
		events:   cfg.Events,
		done:     cfg.Done,

		avatar: cfg.Avatar.Clone(),
	}
}

// Requests returns the channel of requests from the client.
func (s *Session) Requests() <-chan Request {
	return s.requests
}

// Done returns a channel that is closed when the client task stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver sends ev to the client.
// It blocks while the client's event buffer is full.
// It returns [ErrSessionGone] if the client task has stopped,
// or a wrapped context error if ctx is canceled first.
func (s *Session) Deliver(ctx context.Context, ev Event) error {
	// Check done first so a stopped client is reported
	// even if there is still room in the buffer.
	select {
	case <-s.done:
		return ErrSessionGone
	default:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf(
			"context canceled while delivering event to %s: %w",
			s.Player, context.Cause(ctx),
		)
	case <-s.done:
		return ErrSessionGone
	case s.events <- ev:
		return nil
	}
}

// Avatar returns a copy of the player's current avatar.
func (s *Session) Avatar() Avatar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatar.Clone()
}

// SetAvatar records a new avatar for the player.
func (s *Session) SetAvatar(a Avatar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatar = a.Clone()
}

// Handle is the owning reference to a [Session].
//
// Handing a session to another component is done with [*Handle.Move],
// which empties the source handle;
// so a session can never be registered in two places from the same handle.
type Handle struct {
	mu sync.Mutex
	s  *Session
}

// NewHandle returns a handle owning s.
func NewHandle(s *Session) *Handle {
	if s == nil {
		panic(errors.New("BUG: NewHandle called with nil session"))
	}
	return &Handle{s: s}
}

// Move transfers ownership into a new handle.
// The receiver no longer owns the session afterwards.
func (h *Handle) Move() (*Handle, error) {
	s, err := h.Take()
	if err != nil {
		return nil, err
	}
	return &Handle{s: s}, nil
}

// Take removes the session from h and returns it.
func (h *Handle) Take() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.s == nil {
		return nil, ErrMoved
	}
	s := h.s
	h.s = nil
	return s, nil
}

// Peek returns the owned session without taking it,
// or nil if it has been moved.
func (h *Handle) Peek() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}
