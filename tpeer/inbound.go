package tpeer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

// localName returns the name of p if p is a principal of this instance.
func (a *Actor) localName(p tplayer.ID) (string, bool) {
	return p.Name, p.Server == a.local && p.Name != ""
}

// remoteName returns the name of p if p is a principal of the remote.
func (a *Actor) remoteName(p tplayer.ID) (string, bool) {
	return p.Name, p.Server == a.remote && p.Name != ""
}

func (a *Actor) dropSpoofed(m twire.Message, p tplayer.ID) {
	a.log.Info(
		"Dropping message with principal from neither side of the connection",
		"tag", m.Tag(),
		"player", p,
	)
}

// handleWire dispatches one decoded inbound message.
func (a *Actor) handleWire(ctx context.Context, m twire.Message) {
	switch m := m.(type) {
	case twire.AssetsPull:
		a.handleAssetsPull(ctx, m)

	case twire.AssetsPush:
		a.handleAssetsPush(ctx, m)

	case twire.AvatarSet:
		if name, ok := a.localName(m.Player); ok {
			// The destination changed our visiting player's avatar.
			if e, ok := a.onPeer[name]; ok {
				e.session.SetAvatar(m.Avatar)
			}
			return
		}
		if name, ok := a.remoteName(m.Player); ok {
			a.publishGuestAvatar(name, m.Avatar)
			return
		}
		a.dropSpoofed(m, m.Player)

	case twire.ConsensualEmoteRequestInitiate:
		a.handleEmoteInitiate(ctx, m)

	case twire.ConsensualEmoteRequestFromLocation:
		name, ok := a.localName(m.Recipient)
		if !ok {
			a.dropSpoofed(m, m.Recipient)
			return
		}
		a.deliverToVisitor(ctx, name, tplayer.EmoteRequested{
			ID:     m.ID,
			Emote:  m.Emote,
			Sender: m.Sender.Localize(a.local),
		})

	case twire.ConsensualEmoteResponse:
		if m.Player == (tplayer.ID{}) {
			if !a.tables.emotes.resolve(m.ID, m.OK) {
				a.log.Debug("Ignoring emote response with unknown id", "id", m.ID)
			}
			return
		}
		name, ok := a.remoteName(m.Player)
		if !ok {
			a.dropSpoofed(m, m.Player)
			return
		}
		a.forwardToGuest(ctx, name, tplayer.AnswerEmote{ID: m.ID, Accept: m.OK})

	case twire.DirectMessage:
		a.handleDirectMessage(ctx, m)

	case twire.DirectMessageResponse:
		if !a.tables.directMessages.resolve(m.ID, m.Status) {
			a.log.Debug("Ignoring direct message response with unknown id", "id", m.ID)
		}

	case twire.FollowRequestInitiate:
		a.handleFollowInitiate(ctx, m)

	case twire.FollowRequestFromLocation:
		name, ok := a.localName(m.Target)
		if !ok {
			a.dropSpoofed(m, m.Target)
			return
		}
		a.deliverToVisitor(ctx, name, tplayer.FollowRequested{
			ID:     m.ID,
			Source: m.Source.Localize(a.local),
		})

	case twire.FollowResponse:
		if m.Player == (tplayer.ID{}) {
			if !a.tables.follows.resolve(m.ID, m.OK) {
				a.log.Debug("Ignoring follow response with unknown id", "id", m.ID)
			}
			return
		}
		name, ok := a.remoteName(m.Player)
		if !ok {
			a.dropSpoofed(m, m.Player)
			return
		}
		a.forwardToGuest(ctx, name, tplayer.AnswerFollow{ID: m.ID, Accept: m.OK})

	case twire.GuestRequest:
		if name, ok := a.remoteName(m.Player); ok {
			a.forwardToGuest(ctx, name, tplayer.GuestRequest{Payload: m.Payload})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.GuestResponse:
		if name, ok := a.localName(m.Player); ok {
			a.deliverToVisitor(ctx, name, tplayer.GuestResponse{Payload: m.Payload})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.LocationChange:
		if name, ok := a.localName(m.Player); ok {
			a.deliverToVisitor(ctx, name, tplayer.LocationChange{Payload: m.Response})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.LocationMessagePosted:
		if name, ok := a.localName(m.Player); ok {
			msg := m.Message
			msg.Sender = msg.Sender.Localize(a.local)
			a.deliverToVisitor(ctx, name, tplayer.LocationMessagePosted{Message: msg})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.LocationMessageSend:
		if name, ok := a.remoteName(m.Player); ok {
			a.forwardToGuest(ctx, name, tplayer.LocationMessageSend{Body: m.Body})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.LocationMessagesGet:
		if name, ok := a.remoteName(m.Player); ok {
			a.forwardToGuest(ctx, name, tplayer.LocationMessagesGet{From: m.From, To: m.To})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.LocationMessages:
		if name, ok := a.localName(m.Player); ok {
			msgs := make([]tplayer.LocationMessage, len(m.Messages))
			for i, lm := range m.Messages {
				lm.Sender = lm.Sender.Localize(a.local)
				msgs[i] = lm
			}
			a.deliverToVisitor(ctx, name, tplayer.LocationMessages{Messages: msgs})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.OnlineStatusRequest:
		a.handleOnlineStatusRequest(ctx, m)

	case twire.OnlineStatusResponse:
		if !a.tables.online.resolve(m.ID, m.State) {
			a.log.Debug("Ignoring online status response with unknown id", "id", m.ID)
		}

	case twire.RealmRequest:
		if name, ok := a.remoteName(m.Player); ok {
			a.forwardToGuest(ctx, name, tplayer.RealmRequest{Payload: m.Payload})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.RealmResponse:
		if name, ok := a.localName(m.Player); ok {
			a.deliverToVisitor(ctx, name, tplayer.RealmResponse{Payload: m.Payload})
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.RealmsList:
		a.handleRealmsList(ctx, m)

	case twire.RealmsAvailable:
		if !a.tables.realms.resolve(m.ID, m.Entries) {
			a.log.Debug("Ignoring realms response with unknown id", "id", m.ID)
		}

	case twire.VisitorRelease:
		if name, ok := a.localName(m.Player); ok {
			a.handleVisitorRelease(ctx, name, m)
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.VisitorSend:
		if name, ok := a.remoteName(m.Player); ok {
			a.handleVisitorSend(ctx, name, m)
		} else {
			a.dropSpoofed(m, m.Player)
		}

	case twire.VisitorYank:
		// The same message recalls in both directions;
		// the principal's server tells which side sent it.
		if name, ok := a.localName(m.Player); ok {
			a.handleHostYank(ctx, name)
			return
		}
		if name, ok := a.remoteName(m.Player); ok {
			a.handleGuestYank(name)
			return
		}
		a.dropSpoofed(m, m.Player)

	default:
		panic(fmt.Errorf("BUG: unhandled wire message type %T", m))
	}
}

// forwardToGuest passes req to the destination of a remote player visiting here.
// A full destination request channel blocks the actor.
func (a *Actor) forwardToGuest(ctx context.Context, name string, req tplayer.Request) {
	e, ok := a.fromPeer[name]
	if !ok {
		a.log.Debug("Dropping request for unknown visitor", "player", name, "request", fmt.Sprintf("%T", req))
		return
	}

	select {
	case <-ctx.Done():
	case e.dest.Requests <- req:
	}
}

func (a *Actor) publishGuestAvatar(name string, av tplayer.Avatar) {
	av = av.Clone()
	if e, ok := a.fromPeer[name]; ok {
		e.avatar = av
		e.avatarTail = e.avatarTail.Publish(av)
		return
	}
	if ar, ok := a.arriving[name]; ok && ar.avatarTail != nil {
		ar.avatar = av
		ar.avatarTail = ar.avatarTail.Publish(av)
		return
	}
	a.log.Debug("Dropping avatar for unknown visitor", "player", name)
}

func (a *Actor) handleAssetsPull(ctx context.Context, m twire.AssetsPull) {
	if a.assets == nil || len(m.Names) == 0 {
		return
	}
	a.spawn(ctx, "serve assets", func(ctx context.Context) func() {
		assets, err := a.assets.Pull(ctx, m.Names)
		if err != nil {
			a.log.Info("Failed to load requested assets", "n", len(m.Names), "err", err)
			return nil
		}
		if len(assets) == 0 {
			return nil
		}
		return func() {
			a.sendAssets(assets)
		}
	})
}

func (a *Actor) handleAssetsPush(ctx context.Context, m twire.AssetsPush) {
	if a.assets == nil || len(m.Assets) == 0 {
		return
	}
	a.spawn(ctx, "store assets", func(ctx context.Context) func() {
		if err := a.assets.Push(ctx, m.Assets); err != nil {
			a.log.Info("Failed to store pushed assets", "n", len(m.Assets), "err", err)
		}
		return nil
	})
}

func (a *Actor) handleEmoteInitiate(ctx context.Context, m twire.ConsensualEmoteRequestInitiate) {
	respond := func(ok bool) func() {
		return func() {
			a.conn.Send(twire.ConsensualEmoteResponse{ID: m.ID, OK: ok})
		}
	}

	recipient, ok := a.localName(m.Recipient)
	if _, fromRemote := a.remoteName(m.Sender); !ok || !fromRemote {
		a.dropSpoofed(m, m.Sender)
		respond(false)()
		return
	}

	a.spawn(ctx, "consensual emote", func(ctx context.Context) func() {
		accepted, err := a.dir.ConsensualEmote(ctx, m.Sender, recipient, m.Emote)
		if err != nil {
			a.log.Info("Consensual emote failed", "recipient", recipient, "err", err)
			return respond(false)
		}
		return respond(accepted)
	})
}

func (a *Actor) handleFollowInitiate(ctx context.Context, m twire.FollowRequestInitiate) {
	respond := func(ok bool) func() {
		return func() {
			a.conn.Send(twire.FollowResponse{ID: m.ID, OK: ok})
		}
	}

	target, ok := a.localName(m.Target)
	if _, fromRemote := a.remoteName(m.Source); !ok || !fromRemote {
		a.dropSpoofed(m, m.Source)
		respond(false)()
		return
	}

	a.spawn(ctx, "follow", func(ctx context.Context) func() {
		accepted, err := a.dir.Follow(ctx, m.Source, target)
		if err != nil {
			a.log.Info("Follow request failed", "target", target, "err", err)
			return respond(false)
		}
		return respond(accepted)
	})
}

func (a *Actor) handleOnlineStatusRequest(ctx context.Context, m twire.OnlineStatusRequest) {
	respond := func(s twire.PlayerState) func() {
		return func() {
			a.conn.Send(twire.OnlineStatusResponse{ID: m.ID, State: s})
		}
	}

	target, ok := a.localName(m.Target)
	if _, fromRemote := a.remoteName(m.Requester); !ok || !fromRemote {
		a.dropSpoofed(m, m.Requester)
		respond(twire.PlayerUnknown)()
		return
	}

	a.spawn(ctx, "online status", func(ctx context.Context) func() {
		s, err := a.dir.OnlineState(ctx, m.Requester, target)
		if err != nil {
			a.log.Info("Online status lookup failed", "target", target, "err", err)
			s = twire.PlayerUnknown
		}
		return respond(s)
	})
}

func (a *Actor) handleDirectMessage(ctx context.Context, m twire.DirectMessage) {
	respond := func(s twire.DirectMessageStatus) func() {
		return func() {
			a.conn.Send(twire.DirectMessageResponse{ID: m.ID, Status: s})
		}
	}

	if _, fromRemote := a.remoteName(m.Sender); !fromRemote {
		a.dropSpoofed(m, m.Sender)
		respond(twire.DirectMessageForbidden)()
		return
	}
	recipient, ok := a.localName(m.Recipient)
	if !ok {
		respond(twire.DirectMessageUnknownRecipient)()
		return
	}
	if a.store == nil {
		respond(twire.DirectMessageInternalError)()
		return
	}

	a.spawn(ctx, "deliver direct message", func(ctx context.Context) func() {
		return respond(a.storeDirectMessage(ctx, m.Sender, recipient, m.Body))
	})
}

// storeDirectMessage runs in the background.
func (a *Actor) storeDirectMessage(
	ctx context.Context, sender tplayer.ID, recipient, body string,
) twire.DirectMessageStatus {
	rec, err := a.store.LoadPlayer(ctx, recipient)
	if err != nil {
		if errors.Is(err, ErrUnknownPlayer) {
			return twire.DirectMessageUnknownRecipient
		}
		a.log.Info("Failed to load direct message recipient", "recipient", recipient, "err", err)
		return twire.DirectMessageInternalError
	}

	if rec.IsBlocked(sender) {
		return twire.DirectMessageForbidden
	}

	dm := DirectMessageRecord{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Timestamp: a.now(),
	}
	if err := a.store.WriteDirectMessage(ctx, dm); err != nil {
		a.log.Info("Failed to store direct message", "recipient", recipient, "err", err)
		return twire.DirectMessageInternalError
	}

	// Offline recipients read it from the store later.
	_ = a.dir.Notify(ctx, recipient, tplayer.DirectMessageReceived{
		Sender:    sender,
		Body:      body,
		Timestamp: dm.Timestamp,
	})

	return twire.DirectMessageDelivered
}

func (a *Actor) handleRealmsList(ctx context.Context, m twire.RealmsList) {
	respond := func(entries []twire.RealmEntry) func() {
		return func() {
			a.conn.Send(twire.RealmsAvailable{ID: m.ID, Entries: entries})
		}
	}

	src := m.Source
	if src.Player != (tplayer.ID{}) {
		_, local := a.localName(src.Player)
		_, remote := a.remoteName(src.Player)
		if !local && !remote {
			a.dropSpoofed(m, src.Player)
			respond(nil)()
			return
		}
		src.Player = src.Player.Localize(a.local)
	}

	a.spawn(ctx, "list realms", func(ctx context.Context) func() {
		entries, err := a.dir.Realms(ctx, src)
		if err != nil {
			a.log.Info("Failed to list realms", "err", err)
			entries = nil
		}
		entries = slices.Clone(entries)
		for i := range entries {
			if entries[i].Server == "" {
				entries[i].Server = a.local
			}
		}
		return respond(entries)
	})
}
