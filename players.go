package tessera

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tfanout"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
)

// Join brings a newly connected local player into the world.
// Direct messages received since the player was last seen
// are delivered first; then the player is launched home.
func (r *Registry) Join(ctx context.Context, h *tplayer.Handle) error {
	s := h.Peek()
	if s == nil {
		return tplayer.ErrMoved
	}
	if !s.Player.IsLocal() {
		return fmt.Errorf("cannot join %s: %w", s.Player, ErrNotLocal)
	}
	name := s.Player.Name

	// The name is claimed before anything slow happens,
	// so concurrent joins for one player cannot both proceed.
	r.mu.Lock()
	err := ErrAlreadyJoined
	if e, ok := r.players[name]; !ok || e.session != s {
		err = r.claimLocked(name, s)
	}
	since := r.lastSeen[name]
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.join(ctx, h, s, since); err != nil {
		r.mu.Lock()
		r.unclaimLocked(name, s)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Registry) join(ctx context.Context, h *tplayer.Handle, s *tplayer.Session, since time.Time) error {
	name := s.Player.Name

	if r.store != nil {
		dms, err := r.store.ReadDirectMessages(ctx, name, since)
		if err != nil {
			return fmt.Errorf("failed to read direct messages for %q: %w", name, err)
		}
		for _, dm := range dms {
			if err := s.Deliver(ctx, tplayer.DirectMessageReceived{
				Sender:    dm.Sender,
				Body:      dm.Body,
				Timestamp: dm.Timestamp,
			}); err != nil {
				return fmt.Errorf("failed to deliver unread direct messages: %w", err)
			}
		}
	}

	r.log.Info("Player joined", "player", name, "session", s.ID)
	return r.Launch(ctx, h, tplayer.HomeTarget())
}

// runPump relays between a local player's session and a local destination,
// until the session ends or the player goes somewhere else.
func (r *Registry) runPump(
	h *tplayer.Handle,
	s *tplayer.Session,
	target tplayer.Target,
	dest tdest.Destination,
	avatars *tpubsub.Stream[tplayer.Avatar],
) {
	defer r.wg.Done()

	ctx := r.ctx
	name := s.Player.Name
	log := r.log.With("player", name, "target", target)

	gone := func() {
		dest.Leave()
		r.mu.Lock()
		r.forgetLocked(name, s)
		r.mu.Unlock()
		log.Info("Player left")
	}

	// moveTo leaves the current destination and launches the player elsewhere.
	// The pump must return right after,
	// as the session may already belong to a new pump or an actor.
	moveTo := func(t tplayer.Target) {
		dest.Leave()
		if err := r.Launch(ctx, h, t); err != nil {
			log.Info("Failed to move player", "to", t, "err", err)
		}
	}

	destAvatars := dest.Avatars
	for {
		select {
		case <-ctx.Done():
			dest.Leave()
			return

		case <-s.Done():
			gone()
			return

		case req, ok := <-s.Requests():
			if !ok {
				gone()
				return
			}

			switch req := req.(type) {
			case tplayer.GoTo:
				moveTo(req.Target)
				return
			case tplayer.ChangeAvatar:
				s.SetAvatar(req.Avatar)
				avatars = avatars.Publish(req.Avatar.Clone())
			default:
				select {
				case <-ctx.Done():
					dest.Leave()
					return
				case <-s.Done():
					gone()
					return
				case dest.Requests <- req:
				}
			}

		case ev, ok := <-dest.Events:
			if !ok {
				if target.Kind == tplayer.TargetHome {
					// Nowhere left to go.
					log.Warn("Home destination closed; disconnecting player")
					gone()
					return
				}
				log.Info("Destination ejected player; sending home")
				moveTo(tplayer.HomeTarget())
				return
			}

			if mv, ok := ev.(tplayer.Move); ok {
				moveTo(mv.Target)
				return
			}

			if err := s.Deliver(ctx, ev); err != nil {
				if errors.Is(err, tplayer.ErrSessionGone) {
					gone()
				} else {
					dest.Leave()
				}
				return
			}

		case av, ok := <-destAvatars:
			if !ok {
				destAvatars = nil
				continue
			}
			s.SetAvatar(av)
		}
	}
}

// CheckOnline reports whether target is online, as seen by the local player requester.
func (r *Registry) CheckOnline(
	ctx context.Context, requester string, target tplayer.ID,
) (twire.PlayerState, error) {
	target = target.Localize(r.local)
	if target.IsLocal() {
		return r.OnlineState(ctx, tplayer.Local(requester), target.Name)
	}

	a, err := r.Peer(ctx, target.Server)
	if err != nil {
		return twire.PlayerUnknown, err
	}
	return a.CheckOnline(ctx, tplayer.Local(requester), target.Name)
}

// Locate looks for the player named name on each of servers,
// on behalf of the local player requester.
// It returns the first server to report them online,
// or ok=false once every server has answered otherwise.
func (r *Registry) Locate(
	ctx context.Context, requester, name string, servers []string,
) (server string, ok bool, err error) {
	first := tfanout.NewSingle[string]()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := r.CheckOnline(ctx, requester, tplayer.Remote(srv, name))
			if err != nil {
				r.log.Debug("Failed to check online state", "server", srv, "player", name, "err", err)
				return
			}
			if state == twire.PlayerOnline {
				first.Deliver(srv)
			}
		}()
	}

	answered := make(chan struct{})
	go func() {
		wg.Wait()
		close(answered)
	}()

	select {
	case <-ctx.Done():
		return "", false, context.Cause(ctx)
	case srv := <-first.Result():
		return srv, true, nil
	case <-answered:
		// The last answer may also have been the first online one.
		select {
		case srv := <-first.Result():
			return srv, true, nil
		default:
			return "", false, nil
		}
	}
}

// DirectMessage sends body from the local player sender to recipient.
func (r *Registry) DirectMessage(
	ctx context.Context, sender string, recipient tplayer.ID, body string,
) (twire.DirectMessageStatus, error) {
	recipient = recipient.Localize(r.local)
	if !recipient.IsLocal() {
		a, err := r.Peer(ctx, recipient.Server)
		if err != nil {
			return twire.DirectMessageUnknownRecipient, err
		}
		return a.DirectMessage(ctx, tplayer.Local(sender), recipient.Name, body)
	}

	if r.store == nil {
		return twire.DirectMessageInternalError, nil
	}

	rec, err := r.store.LoadPlayer(ctx, recipient.Name)
	if err != nil {
		if errors.Is(err, tpeer.ErrUnknownPlayer) {
			return twire.DirectMessageUnknownRecipient, nil
		}
		return twire.DirectMessageInternalError, fmt.Errorf(
			"failed to load recipient %q: %w", recipient.Name, err,
		)
	}
	if rec.IsBlocked(tplayer.Local(sender)) {
		return twire.DirectMessageForbidden, nil
	}

	dm := tpeer.DirectMessageRecord{
		Sender:    tplayer.Local(sender),
		Recipient: recipient.Name,
		Body:      body,
		Timestamp: r.now(),
	}
	if err := r.store.WriteDirectMessage(ctx, dm); err != nil {
		return twire.DirectMessageInternalError, fmt.Errorf("failed to store direct message: %w", err)
	}

	_ = r.Notify(ctx, recipient.Name, tplayer.DirectMessageReceived{
		Sender:    dm.Sender,
		Body:      dm.Body,
		Timestamp: dm.Timestamp,
	})
	return twire.DirectMessageDelivered, nil
}

// RequestEmote asks recipient to take part in emote with the local player sender.
func (r *Registry) RequestEmote(
	ctx context.Context, sender string, recipient tplayer.ID, emote string,
) (bool, error) {
	recipient = recipient.Localize(r.local)
	if recipient.IsLocal() {
		return r.world.ConsensualEmote(ctx, tplayer.Local(sender), recipient.Name, emote)
	}

	a, err := r.Peer(ctx, recipient.Server)
	if err != nil {
		return false, err
	}
	return a.ConsensualEmote(ctx, tplayer.Local(sender), recipient.Name, emote)
}

// RequestFollow asks target whether the local player source may follow them.
func (r *Registry) RequestFollow(ctx context.Context, source string, target tplayer.ID) (bool, error) {
	target = target.Localize(r.local)
	if target.IsLocal() {
		return r.world.Follow(ctx, tplayer.Local(source), target.Name)
	}

	a, err := r.Peer(ctx, target.Server)
	if err != nil {
		return false, err
	}
	return a.Follow(ctx, tplayer.Local(source), target.Name)
}

// ListRealms fans a realm query out to this instance and every named peer.
// The returned accumulator merges the replies as they arrive;
// its Done channel is closed once every instance has answered.
// Peers that cannot be reached contribute an empty answer immediately.
// Local entries carry this instance's name as their server.
func (r *Registry) ListRealms(
	ctx context.Context, source twire.RealmSource, peers []string,
) *tfanout.Accumulator[[]twire.RealmEntry] {
	acc := tfanout.NewAccumulator(len(peers)+1, []twire.RealmEntry(nil), mergeRealms)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		entries, err := r.world.Realms(ctx, source)
		if err != nil {
			r.log.Info("Failed to list local realms", "err", err)
			entries = nil
		}
		entries = slices.Clone(entries)
		for i := range entries {
			if entries[i].Server == "" {
				entries[i].Server = r.local
			}
		}
		acc.Deliver(entries)
	}()

	for _, p := range peers {
		a, err := r.Peer(ctx, p)
		if err == nil {
			err = a.ListRealms(ctx, source, acc)
		}
		if err != nil {
			r.log.Info("Failed to list realms on peer", "remote", p, "err", err)
			acc.Deliver(nil)
		}
	}

	return acc
}

// mergeRealms appends the new entries, keeping the result sorted by server then id.
func mergeRealms(acc, v []twire.RealmEntry) []twire.RealmEntry {
	out := make([]twire.RealmEntry, 0, len(acc)+len(v))
	out = append(out, acc...)
	out = append(out, v...)
	slices.SortStableFunc(out, func(a, b twire.RealmEntry) int {
		return cmp.Or(strings.Compare(a.Server, b.Server), strings.Compare(a.ID, b.ID))
	})
	return out
}

// LastSeen returns when the local player named name last left,
// or the zero time if they have not left since the registry started.
func (r *Registry) LastSeen(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen[name]
}
