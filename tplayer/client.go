package tplayer

import "sync"

// Client is the player's end of a [Session].
// A rendering-client connection owns one Client;
// tests use it to stand in for the rendering client.
type Client struct {
	Requests chan<- Request
	Events   <-chan Event

	requests chan Request
	done     chan struct{}
	once     sync.Once
}

// NewClient returns a connected Client and the matching Session.
// Both channels are buffered with buf entries.
func NewClient(player ID, caps Capabilities, avatar Avatar, buf int) (*Client, *Session) {
	reqs := make(chan Request, buf)
	evs := make(chan Event, buf)
	done := make(chan struct{})

	c := &Client{
		Requests: reqs,
		Events:   evs,

		requests: reqs,
		done:     done,
	}

	s := NewSession(SessionConfig{
		Player:       player,
		Capabilities: caps,
		Avatar:       avatar,

		Requests: reqs,
		Events:   evs,
		Done:     done,
	})

	return c, s
}

// Disconnect marks the client task as stopped
// and closes the request channel.
// It is safe to call more than once.
func (c *Client) Disconnect() {
	c.once.Do(func() {
		close(c.done)
		close(c.requests)
	})
}
