package tpeer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/tessera/internal/ttrace"
	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
)

type sendPlayerRequest struct {
	Handle *tplayer.Handle
	Target tplayer.Target
	Resp   chan error
}

// SendPlayer hands the local player in h to the named realm on the remote.
//
// On success the session has been moved out of h
// and is owned by the actor until the remote releases or yanks the player,
// at which point it is passed back through [Directory.Launch].
// On failure h still owns the session.
func (a *Actor) SendPlayer(ctx context.Context, h *tplayer.Handle, realm string) error {
	return a.sendPlayer(ctx, h, tplayer.RealmTarget(a.remote, realm))
}

// SendPlayerToHost is like [*Actor.SendPlayer]
// but sends the player to the hosted space of the remote player named host.
func (a *Actor) SendPlayerToHost(ctx context.Context, h *tplayer.Handle, host string) error {
	return a.sendPlayer(ctx, h, tplayer.HostTarget(a.remote, host))
}

func (a *Actor) sendPlayer(ctx context.Context, h *tplayer.Handle, target tplayer.Target) error {
	req := sendPlayerRequest{
		Handle: h,
		Target: target,
		Resp:   make(chan error, 1),
	}
	if err := submit(ctx, a, a.sendPlayerRequests, req, "send player"); err != nil {
		return err
	}
	err, awaitErr := await(ctx, a, req.Resp, "send player")
	if awaitErr != nil {
		return awaitErr
	}
	return err
}

func (a *Actor) handleSendPlayer(ctx context.Context, req sendPlayerRequest) {
	s := req.Handle.Peek()
	if s == nil {
		req.Resp <- tplayer.ErrMoved
		return
	}

	_, span := a.tracer.Start(
		ctx, "send player",
		ttrace.WithAttributes(
			ttrace.RemoteAttr(a.remote),
			ttrace.PlayerAttr(s.Player),
		),
	)
	defer span.End()

	if !s.Player.IsLocal() {
		err := fmt.Errorf("cannot send non-local player %s", s.Player)
		ttrace.SpanError(span, err)
		req.Resp <- err
		return
	}

	name := s.Player.Name
	if _, ok := a.onPeer[name]; ok {
		ttrace.SpanError(span, ErrAlreadyVisiting)
		req.Resp <- ErrAlreadyVisiting
		return
	}

	h, err := req.Handle.Move()
	if err != nil {
		ttrace.SpanError(span, err)
		req.Resp <- err
		return
	}

	caps := a.visitorCapabilities(s.Capabilities)

	gen := a.mintGen()
	actx, cancel := context.WithCancel(ctx)
	a.onPeer[name] = &onPeerEntry{
		gen:     gen,
		handle:  h,
		session: s,
		caps:    caps,
		target:  req.Target,
		cancel:  cancel,
	}
	go a.runSessionAdapter(actx, name, gen, s)

	a.conn.Send(twire.VisitorSend{
		Capabilities: caps.Names(),
		Player:       s.Player.Qualify(a.local),
		Target:       req.Target,
		Avatar:       s.Avatar(),
	})

	a.dir.UpdatePlayer(name, a.remote)

	a.log.Info("Sent player", "player", name, "target", req.Target, "capabilities", caps)

	req.Resp <- nil
}

// visitorCapabilities is the subset of client that both instances support.
// Before the remote's first handshake, only the local set applies;
// the remote re-validates on arrival either way.
func (a *Actor) visitorCapabilities(client tplayer.Capabilities) tplayer.Capabilities {
	caps := client.Intersect(a.caps)
	if a.remoteCapsKnown {
		caps = caps.Intersect(a.remoteCaps)
	}
	return caps
}

// removeOnPeer forgets a visiting local player.
// The caller decides what happens to e.handle.
func (a *Actor) removeOnPeer(name string, e *onPeerEntry) {
	e.cancel()
	delete(a.onPeer, name)
	a.dir.UpdatePlayer(name, "")
}

// forceYank recalls a visiting local player whose client is gone.
func (a *Actor) forceYank(name string, e *onPeerEntry) {
	a.log.Info("Visiting player's session is gone; yanking", "player", name)
	a.removeOnPeer(name, e)
	a.conn.Send(twire.VisitorYank{Player: tplayer.Remote(a.local, name)})
}

// relaunch passes h back to the directory.
func (a *Actor) relaunch(name string, h *tplayer.Handle, target tplayer.Target) {
	a.log.Debug("Returning player to directory", "player", name, "target", target)
	a.dir.Relaunch(h, target)
}

// deliverToVisitor passes ev to the client of a visiting local player.
// If the client is gone, the player is yanked from the remote.
func (a *Actor) deliverToVisitor(ctx context.Context, name string, ev tplayer.Event) {
	e, ok := a.onPeer[name]
	if !ok {
		a.log.Debug("Dropping event for player not visiting peer", "player", name, "event", fmt.Sprintf("%T", ev))
		return
	}

	if err := e.session.Deliver(ctx, ev); err != nil {
		if errors.Is(err, tplayer.ErrSessionGone) {
			a.forceYank(name, e)
		}
		// Otherwise the actor is stopping.
	}
}

// handleVisitorRelease handles the remote sending our player elsewhere,
// or refusing them when the target is None.
func (a *Actor) handleVisitorRelease(ctx context.Context, name string, m twire.VisitorRelease) {
	e, ok := a.onPeer[name]
	if !ok {
		a.log.Debug("Ignoring release of player not visiting peer", "player", name)
		return
	}

	target := m.Target.Localize(a.local)
	if target.Kind == tplayer.TargetNone {
		a.log.Info("Peer refused player", "player", name, "target", e.target)
	} else {
		a.log.Info("Peer released player", "player", name, "target", target)
	}

	a.removeOnPeer(name, e)

	// The client may already be gone; Launch deals with that.
	_ = e.session.Deliver(ctx, tplayer.Released{Target: target})

	a.relaunch(name, e.handle, target)
}

// handleHostYank handles the remote unilaterally returning our player.
func (a *Actor) handleHostYank(ctx context.Context, name string) {
	e, ok := a.onPeer[name]
	if !ok {
		a.log.Debug("Ignoring yank of player not visiting peer", "player", name)
		return
	}

	a.log.Info("Peer yanked player", "player", name)
	a.removeOnPeer(name, e)

	_ = e.session.Deliver(ctx, tplayer.Released{Target: tplayer.HomeTarget()})

	a.relaunch(name, e.handle, tplayer.HomeTarget())
}

// handleGoTo handles a visiting player's own request to leave.
func (a *Actor) handleGoTo(ctx context.Context, name string, e *onPeerEntry, target tplayer.Target) {
	if (target.Kind == tplayer.TargetRealm || target.Kind == tplayer.TargetHost) && target.Server == a.remote {
		// Relocation on the same remote keeps the visit alive.
		e.target = target
		a.conn.Send(twire.VisitorSend{
			Capabilities: e.caps.Names(),
			Player:       tplayer.Remote(a.local, name),
			Target:       target,
			Avatar:       e.session.Avatar(),
		})
		return
	}

	a.removeOnPeer(name, e)
	a.conn.Send(twire.VisitorYank{Player: tplayer.Remote(a.local, name)})
	a.relaunch(name, e.handle, target)
}

// handleVisitorSend handles a remote player arriving,
// or relocating if they are already a guest here.
func (a *Actor) handleVisitorSend(ctx context.Context, name string, m twire.VisitorSend) {
	deny := func(reason string) {
		a.log.Info("Refusing visitor", "player", name, "reason", reason)
		if ar, ok := a.arriving[name]; ok {
			ar.cancel()
			delete(a.arriving, name)
		}
		if e, ok := a.fromPeer[name]; ok {
			a.removeFromPeer(name, e)
		}
		a.conn.Send(twire.VisitorRelease{Player: m.Player, Target: tplayer.NoTarget()})
	}

	// Unsupported capabilities and access denial look the same to the remote.
	caps, unsupported := tplayer.ParseCapabilities(m.Capabilities)
	if len(unsupported) > 0 {
		deny("unknown capabilities")
		return
	}
	if !a.caps.Contains(caps) {
		deny("capabilities not offered")
		return
	}

	target := m.Target.Localize(a.local)
	if (target.Kind != tplayer.TargetRealm && target.Kind != tplayer.TargetHost) || target.Server != "" {
		deny("target not on this instance")
		return
	}

	ar := &arrival{
		player: m.Player,
		caps:   caps,
		target: target,
	}
	if e, ok := a.fromPeer[name]; ok {
		e.avatar = m.Avatar.Clone()
		e.avatarTail = e.avatarTail.Publish(e.avatar)
	} else {
		ar.avatar = m.Avatar.Clone()
		ar.avatarTail = tpubsub.NewStream[tplayer.Avatar]()
	}
	a.startArrival(ctx, name, ar)
}

// startArrival runs admission of ar in the background,
// superseding any admission already pending for the same player.
func (a *Actor) startArrival(ctx context.Context, name string, ar *arrival) {
	if old, ok := a.arriving[name]; ok {
		old.cancel()
	}

	guest := tdest.Guest{
		Player:       ar.player,
		Capabilities: ar.caps,
		Avatar:       ar.avatar,
		Avatars:      ar.avatarTail,
	}
	if e, ok := a.fromPeer[name]; ok {
		guest.Avatar = e.avatar
		guest.Avatars = e.avatarTail
	}

	ar.gen = a.mintGen()
	actx, cancel := context.WithCancel(ctx)
	ar.cancel = cancel
	a.arriving[name] = ar

	gen := ar.gen
	go func() {
		actx, span := a.tracer.Start(
			actx, "admit visitor",
			ttrace.WithAttributes(
				ttrace.RemoteAttr(a.remote),
				ttrace.PlayerAttr(ar.player),
			),
		)
		defer span.End()

		dest, err := a.dir.AttachGuest(actx, guest, ar.target)
		if err != nil {
			ttrace.SpanError(span, err)
		}

		// Report on the actor's context rather than the admission's,
		// so that a destination attached concurrently with a yank
		// still reaches the main loop and is left there.
		select {
		case <-ctx.Done():
			if err == nil {
				dest.Leave()
			}
		case a.backgroundResults <- func() {
			a.finishArrival(ctx, name, gen, dest, err)
		}:
		}
	}()
}

func (a *Actor) finishArrival(
	ctx context.Context, name string, gen uint64, dest tdest.Destination, err error,
) {
	ar, ok := a.arriving[name]
	if !ok || ar.gen != gen {
		// Yanked or superseded while admission was pending.
		if err == nil {
			dest.Leave()
		}
		return
	}
	ar.cancel()
	delete(a.arriving, name)

	e, relocating := a.fromPeer[name]

	if err != nil {
		if ar.fromMove {
			a.log.Info(
				"Failed to relocate guest; keeping current destination",
				"player", name,
				"target", ar.target,
				"err", err,
			)
			return
		}

		a.log.Info("Admission refused", "player", name, "target", ar.target, "err", err)
		if relocating {
			a.removeFromPeer(name, e)
		}
		a.conn.Send(twire.VisitorRelease{Player: ar.player, Target: tplayer.NoTarget()})
		return
	}

	if relocating {
		e.cancel()
		e.dest.Leave()
	} else {
		e = &fromPeerEntry{
			player:     ar.player,
			avatar:     ar.avatar,
			avatarTail: ar.avatarTail,
		}
		a.fromPeer[name] = e
	}

	e.caps = ar.caps
	e.target = ar.target
	e.dest = dest
	e.gen = a.mintGen()

	cctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go a.runGuestCombinator(cctx, name, e.gen, dest)

	a.log.Info("Admitted visitor", "player", name, "target", ar.target, "relocated", relocating)
}

// removeFromPeer detaches a guest from its destination and forgets it.
func (a *Actor) removeFromPeer(name string, e *fromPeerEntry) {
	e.cancel()
	e.dest.Leave()
	delete(a.fromPeer, name)
}

// handleGuestYank handles the remote recalling its player from here.
func (a *Actor) handleGuestYank(name string) {
	found := false
	if ar, ok := a.arriving[name]; ok {
		ar.cancel()
		delete(a.arriving, name)
		found = true
	}
	if e, ok := a.fromPeer[name]; ok {
		a.removeFromPeer(name, e)
		found = true
	}

	if found {
		a.log.Info("Peer recalled visitor", "player", name)
	} else {
		a.log.Debug("Ignoring yank of unknown visitor", "player", name)
	}
}

// handleMove handles a destination asking to move its guest.
func (a *Actor) handleMove(ctx context.Context, name string, e *fromPeerEntry, target tplayer.Target) {
	target = target.Localize(a.local)

	if (target.Kind == tplayer.TargetRealm || target.Kind == tplayer.TargetHost) && target.Server == "" {
		a.startArrival(ctx, name, &arrival{
			player:   e.player,
			caps:     e.caps,
			target:   target,
			fromMove: true,
		})
		return
	}

	if ar, ok := a.arriving[name]; ok {
		ar.cancel()
		delete(a.arriving, name)
	}
	a.removeFromPeer(name, e)
	a.conn.Send(twire.VisitorRelease{Player: e.player, Target: target.Qualify(a.local)})
}
