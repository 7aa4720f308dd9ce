package tessera

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
)

// Launch hands the session in h to target.
// Local targets attach the player to a local destination
// and start a session pump; remote targets go through the peer's actor.
// If the hand-off cannot start, the player is sent home instead.
func (r *Registry) Launch(ctx context.Context, h *tplayer.Handle, target tplayer.Target) error {
	s := h.Peek()
	if s == nil {
		return tplayer.ErrMoved
	}
	if !s.Player.IsLocal() {
		return fmt.Errorf("cannot launch %s: %w", s.Player, ErrNotLocal)
	}

	target = target.Localize(r.local)

	switch target.Kind {
	case tplayer.TargetNone, tplayer.TargetHome:
		return r.launchLocal(ctx, h, tplayer.HomeTarget())

	case tplayer.TargetRealm, tplayer.TargetHost:
		if target.Server == "" {
			err := r.launchLocal(ctx, h, target)
			if err == nil {
				return nil
			}
			r.log.Info(
				"Failed to attach player locally; sending home",
				"player", s.Player.Name,
				"target", target,
				"err", err,
			)
			return r.launchLocal(ctx, h, tplayer.HomeTarget())
		}

		err := r.launchRemote(ctx, h, target)
		if err == nil {
			return nil
		}
		if errors.Is(err, tplayer.ErrMoved) {
			return err
		}
		r.log.Info(
			"Failed to send player to peer; sending home",
			"player", s.Player.Name,
			"target", target,
			"err", err,
		)
		return r.launchLocal(ctx, h, tplayer.HomeTarget())

	default:
		panic(fmt.Errorf("BUG: invalid target kind %d", target.Kind))
	}
}

// Relaunch runs Launch in the background for an actor returning a player.
// It is tracked by [*Registry.Wait] and runs on the registry's context,
// bounded by the relaunch timeout,
// so a player is not left without an owner when the actor stops.
func (r *Registry) Relaunch(h *tplayer.Handle, target tplayer.Target) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.relaunchTimeout)
		defer cancel()

		if err := r.Launch(ctx, h, target); err != nil {
			var name string
			if s := h.Peek(); s != nil {
				name = s.Player.Name
			}
			r.log.Info("Failed to relaunch player", "player", name, "target", target, "err", err)
		}
	}()
}

func (r *Registry) launchRemote(ctx context.Context, h *tplayer.Handle, target tplayer.Target) error {
	a, err := r.Peer(ctx, target.Server)
	if err != nil {
		return err
	}
	if target.Kind == tplayer.TargetHost {
		return a.SendPlayerToHost(ctx, h, target.Name)
	}
	return a.SendPlayer(ctx, h, target.Name)
}

// launchLocal attaches the session in h to a local destination
// and starts a pump between the two.
func (r *Registry) launchLocal(ctx context.Context, h *tplayer.Handle, target tplayer.Target) error {
	s := h.Peek()
	if s == nil {
		return tplayer.ErrMoved
	}

	avatar := s.Avatar()
	avatars := tpubsub.NewStream[tplayer.Avatar]()
	dest, err := r.AttachGuest(ctx, tdest.Guest{
		Player:       s.Player,
		Capabilities: s.Capabilities,
		Avatar:       avatar,
		Avatars:      avatars,
	}, target)
	if err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", s.Player, target, err)
	}

	r.mu.Lock()
	err = r.claimLocked(s.Player.Name, s)
	r.mu.Unlock()
	if err != nil {
		dest.Leave()
		return err
	}

	r.wg.Add(1)
	go r.runPump(h, s, target, dest, avatars)

	return nil
}

// OnlineState reports whether the local player named name has a live session.
// Players who blocked requester appear unknown to them.
func (r *Registry) OnlineState(ctx context.Context, requester tplayer.ID, name string) (twire.PlayerState, error) {
	var rec tpeer.PlayerRecord
	if r.store != nil {
		var err error
		rec, err = r.store.LoadPlayer(ctx, name)
		if err != nil {
			if errors.Is(err, tpeer.ErrUnknownPlayer) {
				return twire.PlayerUnknown, nil
			}
			return twire.PlayerUnknown, fmt.Errorf("failed to load player %q: %w", name, err)
		}
		if rec.IsBlocked(requester) {
			return twire.PlayerUnknown, nil
		}
	}

	if r.liveSession(name) != nil {
		return twire.PlayerOnline, nil
	}
	if r.store != nil {
		return twire.PlayerOffline, nil
	}

	// Without a store, an absent player is indistinguishable from a nonexistent one.
	return twire.PlayerUnknown, nil
}

// UpdatePlayer records which peer the local player named name is visiting.
func (r *Registry) UpdatePlayer(name, visiting string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.players[name]; ok {
		e.visiting = visiting
	}
}

// Visiting returns the remote instance the local player named name is visiting,
// or the empty string if they are here or offline.
func (r *Registry) Visiting(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.players[name]; ok {
		return e.visiting
	}
	return ""
}

// AttachGuest connects guest to a local destination.
// Host targets are admitted by the registered [Host];
// everything else is attached by the [World].
func (r *Registry) AttachGuest(
	ctx context.Context, guest tdest.Guest, target tplayer.Target,
) (tdest.Destination, error) {
	if target.Kind == tplayer.TargetHost {
		h, ok := r.host(target.Name)
		if !ok {
			return tdest.Destination{}, UnknownHostError{Host: target.Name}
		}
		return h.Admit(ctx, guest)
	}
	return r.world.Attach(ctx, guest, target)
}

// Notify delivers ev to the local player named name,
// whether they are here or visiting a peer.
func (r *Registry) Notify(ctx context.Context, name string, ev tplayer.Event) bool {
	s := r.liveSession(name)
	if s == nil {
		return false
	}
	if err := s.Deliver(ctx, ev); err != nil {
		r.log.Debug("Failed to notify player", "player", name, "err", err)
		return false
	}
	return true
}

func (r *Registry) ConsensualEmote(
	ctx context.Context, sender tplayer.ID, recipient, emote string,
) (bool, error) {
	return r.world.ConsensualEmote(ctx, sender, recipient, emote)
}

func (r *Registry) Follow(ctx context.Context, source tplayer.ID, target string) (bool, error) {
	return r.world.Follow(ctx, source, target)
}

func (r *Registry) Realms(ctx context.Context, source twire.RealmSource) ([]twire.RealmEntry, error) {
	return r.world.Realms(ctx, source)
}

// liveSession returns the session of the local player named name,
// or nil if they have no live session.
// Entries of stopped sessions are dropped as a side effect.
func (r *Registry) liveSession(name string) *tplayer.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.players[name]
	if !ok {
		return nil
	}

	select {
	case <-e.session.Done():
		r.forgetLocked(name, e.session)
		return nil
	default:
		return e.session
	}
}

// claimLocked records s as the session of the local player named name,
// as present on this instance.
// It fails with [ErrAlreadyJoined] while a different session for name is live.
// r.mu must be held.
func (r *Registry) claimLocked(name string, s *tplayer.Session) error {
	if e, ok := r.players[name]; ok && e.session != s {
		select {
		case <-e.session.Done():
			r.forgetLocked(name, e.session)
		default:
			return ErrAlreadyJoined
		}
	}
	r.players[name] = &playerEntry{session: s}
	return nil
}

// unclaimLocked removes the entry for name if it still refers to s,
// leaving the last-seen time alone.
// r.mu must be held.
func (r *Registry) unclaimLocked(name string, s *tplayer.Session) {
	if e, ok := r.players[name]; ok && e.session == s {
		delete(r.players, name)
	}
}

// forgetLocked removes the entry for name if it still refers to s.
// r.mu must be held.
func (r *Registry) forgetLocked(name string, s *tplayer.Session) {
	if e, ok := r.players[name]; ok && e.session == s {
		delete(r.players, name)
		r.lastSeen[name] = r.now()
	}
}
