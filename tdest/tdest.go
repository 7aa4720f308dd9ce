// Package tdest defines the contract between the federation core
// and a destination: a realm or hosted space that owns in-world logic.
//
// The core never interprets destination payloads;
// it only moves [tplayer.Request] values in and [tplayer.Event] values out.
package tdest

import (
	"sync"

	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
)

// Guest describes a player being admitted to a destination.
type Guest struct {
	// Fully qualified principal.
	Player tplayer.ID

	// Negotiated capabilities of the guest's client.
	Capabilities tplayer.Capabilities

	// Avatar at admission time.
	Avatar tplayer.Avatar

	// Later avatar changes made by the player.
	// Written only by the component that owns the guest;
	// the destination may read it at its own pace.
	Avatars *tpubsub.Stream[tplayer.Avatar]
}

// Destination is an attached guest's view of a destination.
type Destination struct {
	// Requests from the guest.
	// Bounded; a full channel applies backpressure.
	Requests chan<- tplayer.Request

	// Events for the guest.
	// Closed by the destination when it ejects the guest.
	Events <-chan tplayer.Event

	// Optional avatar changes imposed on the guest by the destination.
	// May be nil.
	Avatars <-chan tplayer.Avatar

	// Leave detaches the guest. It is safe to call more than once.
	Leave func()
}

// Endpoint is the destination-side half of a [Destination]
// created with [NewPair].
type Endpoint struct {
	Requests <-chan tplayer.Request
	Events   chan<- tplayer.Event
	Avatars  chan<- tplayer.Avatar

	// Closed once the guest calls Leave.
	Left <-chan struct{}
}

// NewPair returns a connected Destination and Endpoint
// whose channels each have the given capacity.
func NewPair(size int) (Destination, Endpoint) {
	reqs := make(chan tplayer.Request, size)
	evs := make(chan tplayer.Event, size)
	avs := make(chan tplayer.Avatar, size)
	left := make(chan struct{})

	var once sync.Once
	leave := func() {
		once.Do(func() { close(left) })
	}

	return Destination{
			Requests: reqs,
			Events:   evs,
			Avatars:  avs,
			Leave:    leave,
		}, Endpoint{
			Requests: reqs,
			Events:   evs,
			Avatars:  avs,
			Left:     left,
		}
}
