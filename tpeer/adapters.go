package tpeer

import (
	"context"
	"fmt"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
)

// onPeerEntry is a local player visiting the remote.
type onPeerEntry struct {
	// Adapter events carrying a different generation are stale.
	gen uint64

	handle  *tplayer.Handle
	session *tplayer.Session

	// Capabilities sent in the VisitorSend.
	caps tplayer.Capabilities

	// Where the player was sent, qualified with the remote's name.
	target tplayer.Target

	// Stops the session adapter goroutine.
	cancel context.CancelFunc
}

// fromPeerEntry is a remote player visiting a local destination.
type fromPeerEntry struct {
	gen uint64

	// Qualified with the remote's name.
	player tplayer.ID

	caps tplayer.Capabilities

	// Local target, without a server.
	target tplayer.Target

	dest tdest.Destination

	// Latest avatar set by the player, and the tail of the stream
	// that destinations read avatar changes from.
	// Only the main loop publishes to the stream.
	avatar     tplayer.Avatar
	avatarTail *tpubsub.Stream[tplayer.Avatar]

	// Stops the destination combinator goroutine.
	cancel context.CancelFunc
}

// arrival is a pending admission of a remote player to a local destination.
type arrival struct {
	gen    uint64
	cancel context.CancelFunc

	player tplayer.ID
	caps   tplayer.Capabilities
	target tplayer.Target

	// Only used when there is no existing fromPeerEntry.
	avatar     tplayer.Avatar
	avatarTail *tpubsub.Stream[tplayer.Avatar]

	// Set when the destination asked for the relocation.
	// A failed relocation then keeps the guest where they were.
	fromMove bool
}

type adapterEventKind uint8

const (
	// From the session adapter of an onPeerEntry.
	sessionRequestEvent adapterEventKind = 1
	sessionClosedEvent  adapterEventKind = 2

	// From the destination combinator of a fromPeerEntry.
	guestEventEvent   adapterEventKind = 3
	guestAvatarEvent  adapterEventKind = 4
	guestEjectedEvent adapterEventKind = 5
)

// adapterEvent is one item from a per-player adapter stream.
type adapterEvent struct {
	Kind adapterEventKind
	Name string
	Gen  uint64

	Request tplayer.Request
	Event   tplayer.Event
	Avatar  tplayer.Avatar
}

func (a *Actor) emitAdapterEvent(ctx context.Context, ev adapterEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case a.adapterEvents <- ev:
		return true
	}
}

// runSessionAdapter relays a visiting player's client requests to the main loop,
// until ctx is canceled or the client goes away.
func (a *Actor) runSessionAdapter(ctx context.Context, name string, gen uint64, s *tplayer.Session) {
	closed := adapterEvent{Kind: sessionClosedEvent, Name: name, Gen: gen}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.Done():
			a.emitAdapterEvent(ctx, closed)
			return

		case req, ok := <-s.Requests():
			if !ok {
				a.emitAdapterEvent(ctx, closed)
				return
			}
			if !a.emitAdapterEvent(ctx, adapterEvent{
				Kind:    sessionRequestEvent,
				Name:    name,
				Gen:     gen,
				Request: req,
			}) {
				return
			}
		}
	}
}

// runGuestCombinator merges a destination's event and avatar channels
// into the single ordered adapter stream for one guest.
func (a *Actor) runGuestCombinator(ctx context.Context, name string, gen uint64, d tdest.Destination) {
	avatars := d.Avatars
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-d.Events:
			if !ok {
				a.emitAdapterEvent(ctx, adapterEvent{Kind: guestEjectedEvent, Name: name, Gen: gen})
				return
			}
			if !a.emitAdapterEvent(ctx, adapterEvent{
				Kind:  guestEventEvent,
				Name:  name,
				Gen:   gen,
				Event: ev,
			}) {
				return
			}

		case av, ok := <-avatars:
			if !ok {
				// Receiving from a nil channel blocks forever.
				avatars = nil
				continue
			}
			if !a.emitAdapterEvent(ctx, adapterEvent{
				Kind:   guestAvatarEvent,
				Name:   name,
				Gen:    gen,
				Avatar: av,
			}) {
				return
			}
		}
	}
}

func (a *Actor) handleAdapterEvent(ctx context.Context, ev adapterEvent) {
	switch ev.Kind {
	case sessionRequestEvent, sessionClosedEvent:
		e, ok := a.onPeer[ev.Name]
		if !ok || e.gen != ev.Gen {
			return
		}
		if ev.Kind == sessionClosedEvent {
			a.forceYank(ev.Name, e)
			return
		}
		a.handleVisitorRequest(ctx, ev.Name, e, ev.Request)

	case guestEventEvent, guestAvatarEvent, guestEjectedEvent:
		e, ok := a.fromPeer[ev.Name]
		if !ok || e.gen != ev.Gen {
			return
		}
		switch ev.Kind {
		case guestEventEvent:
			a.handleGuestEvent(ctx, ev.Name, e, ev.Event)
		case guestAvatarEvent:
			a.conn.Send(twire.AvatarSet{Player: e.player, Avatar: ev.Avatar})
		case guestEjectedEvent:
			a.log.Info("Destination ejected visitor", "player", ev.Name)
			if ar, ok := a.arriving[ev.Name]; ok {
				ar.cancel()
				delete(a.arriving, ev.Name)
			}
			a.removeFromPeer(ev.Name, e)
			a.conn.Send(twire.VisitorYank{Player: e.player})
		}

	default:
		panic(fmt.Errorf("BUG: invalid adapter event kind %d", ev.Kind))
	}
}

// handleVisitorRequest relays a request from the client of a local player
// visiting the remote.
func (a *Actor) handleVisitorRequest(ctx context.Context, name string, e *onPeerEntry, req tplayer.Request) {
	player := tplayer.Remote(a.local, name)

	switch req := req.(type) {
	case tplayer.RealmRequest:
		a.conn.Send(twire.RealmRequest{Player: player, Payload: req.Payload})
	case tplayer.GuestRequest:
		a.conn.Send(twire.GuestRequest{Player: player, Payload: req.Payload})
	case tplayer.LocationMessageSend:
		a.conn.Send(twire.LocationMessageSend{Player: player, Body: req.Body})
	case tplayer.LocationMessagesGet:
		a.conn.Send(twire.LocationMessagesGet{Player: player, From: req.From, To: req.To})
	case tplayer.ChangeAvatar:
		e.session.SetAvatar(req.Avatar)
		a.conn.Send(twire.AvatarSet{Player: player, Avatar: req.Avatar})
	case tplayer.AnswerEmote:
		a.conn.Send(twire.ConsensualEmoteResponse{ID: req.ID, Player: player, OK: req.Accept})
	case tplayer.AnswerFollow:
		a.conn.Send(twire.FollowResponse{ID: req.ID, Player: player, OK: req.Accept})
	case tplayer.GoTo:
		a.handleGoTo(ctx, name, e, req.Target)
	default:
		panic(fmt.Errorf("BUG: unhandled player request type %T", req))
	}
}

// handleGuestEvent relays an event from the destination of a remote player visiting here.
func (a *Actor) handleGuestEvent(ctx context.Context, name string, e *fromPeerEntry, ev tplayer.Event) {
	switch ev := ev.(type) {
	case tplayer.RealmResponse:
		a.conn.Send(twire.RealmResponse{Player: e.player, Payload: ev.Payload})
	case tplayer.GuestResponse:
		a.conn.Send(twire.GuestResponse{Player: e.player, Payload: ev.Payload})
	case tplayer.LocationChange:
		a.conn.Send(twire.LocationChange{Player: e.player, Response: ev.Payload})
	case tplayer.LocationMessagePosted:
		msg := ev.Message
		msg.Sender = msg.Sender.Qualify(a.local)
		a.conn.Send(twire.LocationMessagePosted{Player: e.player, Message: msg})
	case tplayer.LocationMessages:
		msgs := make([]tplayer.LocationMessage, len(ev.Messages))
		for i, lm := range ev.Messages {
			lm.Sender = lm.Sender.Qualify(a.local)
			msgs[i] = lm
		}
		a.conn.Send(twire.LocationMessages{Player: e.player, Messages: msgs})
	case tplayer.EmoteRequested:
		a.conn.Send(twire.ConsensualEmoteRequestFromLocation{
			ID:        ev.ID,
			Emote:     ev.Emote,
			Sender:    ev.Sender.Qualify(a.local),
			Recipient: e.player,
		})
	case tplayer.FollowRequested:
		a.conn.Send(twire.FollowRequestFromLocation{
			ID:     ev.ID,
			Source: ev.Source.Qualify(a.local),
			Target: e.player,
		})
	case tplayer.Move:
		a.handleMove(ctx, name, e, ev.Target)
	case tplayer.DirectMessageReceived, tplayer.Released:
		// Not location events; the player's origin produces these itself.
		a.log.Debug("Ignoring non-location event from destination", "player", name, "event", fmt.Sprintf("%T", ev))
	default:
		panic(fmt.Errorf("BUG: unhandled player event type %T", ev))
	}
}
