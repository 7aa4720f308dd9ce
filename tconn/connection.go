package tconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/twire"
)

// DefaultGrace is the grace window used when [Config.Grace] is zero.
const DefaultGrace = 5 * time.Minute

// State is the externally visible state of a [Connection].
type State uint8

const (
	StateOnline  State = 1
	StateDead    State = 2
	StateOffline State = 3
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateDead:
		return "dead"
	case StateOffline:
		return "offline"
	default:
		return "invalid"
	}
}

// Config is the configuration for [New].
type Config struct {
	// How long a Dead connection queues outbound messages
	// before discarding them and going Offline.
	// Defaults to DefaultGrace.
	Grace time.Duration

	// Clock. Defaults to time.Now.
	Now func() time.Time

	// Capacity of the channel returned by Inbound.
	// Defaults to 64.
	InboundSize int
}

// Inbound is one value from [*Connection.Inbound].
//
// Exactly one of Msg or Lost is set.
type Inbound struct {
	Msg twire.Message

	// Lost is set when the current socket failed
	// and the Connection went Dead as a result.
	// Err is the read error that caused it.
	Lost bool
	Err  error
}

// Connection wraps the current socket to one remote instance.
//
// Send, Establish and Close are meant to be called
// from the single goroutine that owns the Connection.
// Reader goroutines also change state on socket loss,
// so state is guarded by a mutex.
type Connection struct {
	log *slog.Logger

	ctx context.Context

	grace time.Duration
	now   func() time.Time

	inbound chan Inbound

	mu    sync.Mutex
	state State

	// Set while Online.
	sock Socket

	// Incremented for every established socket,
	// so that a superseded reader's loss is ignored.
	gen uint64

	// Set while Dead.
	since time.Time
	queue []queued
}

// queued is a message encoded at Send time, held while Dead.
type queued struct {
	tag   twire.Tag
	frame []byte
}

// New returns a Connection in the Dead state, as of now,
// with an empty queue.
// Messages sent before the first [*Connection.Establish] call
// are therefore retained for the grace window.
//
// Reader goroutines stop when ctx is canceled.
func New(ctx context.Context, log *slog.Logger, cfg Config) *Connection {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InboundSize <= 0 {
		cfg.InboundSize = 64
	}

	return &Connection{
		log: log,
		ctx: ctx,

		grace: cfg.Grace,
		now:   cfg.Now,

		inbound: make(chan Inbound, cfg.InboundSize),

		state: StateDead,
		since: cfg.Now(),
	}
}

// Inbound returns the channel of decoded inbound messages and loss events.
// The same channel is used across every socket the Connection ever holds.
func (c *Connection) Inbound() <-chan Inbound {
	return c.inbound
}

// State reports the current state,
// first expiring a Dead connection whose grace window has elapsed.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	return c.state
}

// QueueLen reports the number of messages queued while Dead.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	return len(c.queue)
}

// Send transmits m if Online, or queues it if Dead within the grace window.
// Otherwise m is dropped.
//
// A message whose encoding exceeds [twire.MaxFrameSize] is dropped
// in every state and never affects the socket.
//
// A write failure while Online closes the socket,
// moves the Connection to Dead as of now, and queues m.
func (c *Connection) Send(m twire.Message) {
	q := queued{tag: m.Tag(), frame: twire.Encode(m)}
	if len(q.frame) > twire.MaxFrameSize {
		c.log.Warn(
			"Dropping message too large to send",
			"tag", q.tag,
			"size", len(q.frame),
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()

	switch c.state {
	case StateOnline:
		if err := c.sock.WriteFrame(q.frame); err != nil {
			c.log.Info(
				"Failed to write message; connection is now dead",
				"tag", q.tag,
				"err", err,
			)
			c.deadLocked()
			c.queue = append(c.queue, q)
		}

	case StateDead:
		c.queue = append(c.queue, q)

	case StateOffline:
		c.log.Debug("Dropping message to offline peer", "tag", m.Tag())

	default:
		panic(fmt.Errorf("BUG: invalid connection state %d", c.state))
	}
}

// Establish installs s as the current socket,
// first flushing any queued messages to it in order,
// and starts a reader goroutine for s.
//
// If the Connection was already Online,
// the superseded socket is returned and the caller is responsible for closing it.
// Otherwise the returned Socket is nil.
func (c *Connection) Establish(s Socket) (superseded Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()

	if c.state == StateOnline {
		superseded = c.sock
	}

	c.gen++
	gen := c.gen
	c.sock = s
	c.state = StateOnline

	queue := c.queue
	c.queue = nil
	for i, q := range queue {
		if err := s.WriteFrame(q.frame); err != nil {
			c.log.Info(
				"Failed to flush queued messages; connection is now dead",
				"flushed", i,
				"remaining", len(queue)-i,
				"err", err,
			)
			c.deadLocked()
			c.queue = append(c.queue, queue[i:]...)
			break
		}
	}
	if len(queue) > 0 && c.state == StateOnline {
		c.log.Debug("Flushed queued messages", "n", len(queue))
	}

	go c.readLoop(s, gen)

	return superseded
}

// Close closes the current socket, if any, and moves to Offline,
// discarding any queued messages.
// Used when the owner is shutting down.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock != nil {
		if err := c.sock.Close(); err != nil {
			c.log.Debug("Error closing socket", "err", err)
		}
		c.sock = nil
	}
	c.state = StateOffline
	c.queue = nil
	c.gen++
}

// expireLocked moves a Dead connection to Offline
// once its grace window has elapsed.
func (c *Connection) expireLocked() {
	if c.state != StateDead {
		return
	}
	if c.now().Sub(c.since) < c.grace {
		return
	}

	if len(c.queue) > 0 {
		c.log.Info(
			"Grace window elapsed; discarding queued messages",
			"n", len(c.queue),
		)
	}
	c.state = StateOffline
	c.queue = nil
}

// deadLocked closes the current socket and moves to Dead as of now.
func (c *Connection) deadLocked() {
	if err := c.sock.Close(); err != nil {
		c.log.Debug("Error closing failed socket", "err", err)
	}
	c.sock = nil
	c.state = StateDead
	c.since = c.now()
	c.gen++
}

func (c *Connection) readLoop(s Socket, gen uint64) {
	for {
		b, err := s.ReadFrame()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}

		m, err := twire.Decode(b)
		if err != nil {
			c.log.Info("Discarding undecodable inbound frame", "err", err)
			continue
		}

		select {
		case <-c.ctx.Done():
			return
		case c.inbound <- Inbound{Msg: m}:
		}
	}
}

func (c *Connection) handleReadError(gen uint64, err error) {
	c.mu.Lock()
	current := c.gen == gen && c.state == StateOnline
	if current {
		c.log.Info("Lost connection to peer", "err", err)
		c.deadLocked()
	}
	c.mu.Unlock()

	if !current {
		// Superseded socket, or a write failure already moved us to Dead.
		return
	}

	select {
	case <-c.ctx.Done():
	case c.inbound <- Inbound{Lost: true, Err: err}:
	}
}
