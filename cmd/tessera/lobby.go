package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/tessera"
	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
)

// historySize bounds the chat history kept per room.
const historySize = 100

// memberBuffer is the channel capacity of each attached guest.
const memberBuffer = 32

var errUnknownRealm = errors.New("no such realm")

// lobby is the built-in world: every realm and every home is a chat room.
// Realm payloads are echoed back to the sender;
// location messages are broadcast to everyone in the room.
type lobby struct {
	log *slog.Logger
	ctx context.Context
	now func() time.Time

	catalog []realmConfig

	mu    sync.Mutex
	rooms map[string]*room

	wg sync.WaitGroup
}

type room struct {
	name    string
	members map[*member]struct{}
	history []tplayer.LocationMessage
}

type member struct {
	guest tdest.Guest
	ep    tdest.Endpoint

	// Current avatar, guarded by lobby.mu.
	avatar tplayer.Avatar
}

// whoRequest is the realm payload that lists the room's members.
const whoRequest = "who"

var _ tessera.World = (*lobby)(nil)

func newLobby(ctx context.Context, log *slog.Logger, realms []realmConfig) *lobby {
	return &lobby{
		log: log,
		ctx: ctx,
		now: time.Now,

		catalog: slices.Clone(realms),

		rooms: make(map[string]*room),
	}
}

// Wait blocks until every member goroutine has stopped.
func (l *lobby) Wait() {
	l.wg.Wait()
}

func (l *lobby) Attach(
	_ context.Context, guest tdest.Guest, target tplayer.Target,
) (tdest.Destination, error) {
	var key, name string
	switch target.Kind {
	case tplayer.TargetHome:
		if !guest.Player.IsLocal() {
			return tdest.Destination{}, fmt.Errorf("%s has no home here", guest.Player)
		}
		key, name = "home:"+guest.Player.Name, guest.Player.Name+"'s home"
	case tplayer.TargetRealm:
		r, ok := l.realm(target.Name)
		if !ok {
			return tdest.Destination{}, fmt.Errorf("%w: %s", errUnknownRealm, target.Name)
		}
		key, name = "realm:"+r.ID, r.Name
		if name == "" {
			name = r.ID
		}
	default:
		return tdest.Destination{}, fmt.Errorf("cannot attach to %s", target)
	}

	dest, ep := tdest.NewPair(memberBuffer)

	// Only the serve goroutine follows the avatar stream.
	avatars := guest.Avatars
	guest.Avatars = nil
	m := &member{guest: guest, ep: ep, avatar: guest.Avatar}

	l.mu.Lock()
	rm, ok := l.rooms[key]
	if !ok {
		rm = &room{name: name, members: make(map[*member]struct{})}
		l.rooms[key] = rm
	}
	rm.members[m] = struct{}{}
	l.mu.Unlock()

	// Fresh buffered channel; cannot block.
	ep.Events <- tplayer.LocationChange{Payload: []byte(name)}

	l.wg.Add(1)
	go l.serve(key, rm, m, avatars)

	l.log.Info("Guest entered room", "player", guest.Player, "room", name)
	return dest, nil
}

func (l *lobby) serve(key string, rm *room, m *member, avatars *tpubsub.Stream[tplayer.Avatar]) {
	defer l.wg.Done()
	defer l.leave(key, rm, m)

	var avatarReady <-chan struct{}
	if avatars != nil {
		avatarReady = avatars.Ready
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-m.ep.Left:
			return
		case req := <-m.ep.Requests:
			l.handle(rm, m, req)
		case <-avatarReady:
			// Only the newest avatar matters.
			var av tplayer.Avatar
			avatars, av, _ = tpubsub.Latest(avatars)
			avatarReady = avatars.Ready

			l.mu.Lock()
			m.avatar = av
			l.mu.Unlock()
		}
	}
}

func (l *lobby) handle(rm *room, m *member, req tplayer.Request) {
	switch req := req.(type) {
	case tplayer.RealmRequest:
		if string(req.Payload) == whoRequest {
			l.deliver(m, tplayer.RealmResponse{Payload: l.who(rm)})
			return
		}
		l.deliver(m, tplayer.RealmResponse{Payload: req.Payload})

	case tplayer.GuestRequest:
		l.deliver(m, tplayer.GuestResponse{Payload: req.Payload})

	case tplayer.LocationMessageSend:
		msg := tplayer.LocationMessage{
			Sender:    m.guest.Player,
			Body:      req.Body,
			Timestamp: l.now(),
		}

		l.mu.Lock()
		rm.history = append(rm.history, msg)
		if over := len(rm.history) - historySize; over > 0 {
			rm.history = slices.Delete(rm.history, 0, over)
		}
		members := make([]*member, 0, len(rm.members))
		for o := range rm.members {
			members = append(members, o)
		}
		l.mu.Unlock()

		for _, o := range members {
			l.deliver(o, tplayer.LocationMessagePosted{Message: msg})
		}

	case tplayer.LocationMessagesGet:
		var out []tplayer.LocationMessage
		l.mu.Lock()
		for _, msg := range rm.history {
			if !msg.Timestamp.Before(req.From) && !msg.Timestamp.After(req.To) {
				out = append(out, msg)
			}
		}
		l.mu.Unlock()
		l.deliver(m, tplayer.LocationMessages{Messages: out})

	default:
		// Emote and follow answers have nothing to resolve in a lobby.
		l.log.Debug("Ignoring request", "player", m.guest.Player, "type", fmt.Sprintf("%T", req))
	}
}

// who lists the members of rm, one "player avatar" line each, sorted.
func (l *lobby) who(rm *room) []byte {
	l.mu.Lock()
	lines := make([]string, 0, len(rm.members))
	for m := range rm.members {
		lines = append(lines, fmt.Sprintf("%s %s", m.guest.Player, m.avatar))
	}
	l.mu.Unlock()

	slices.Sort(lines)
	return []byte(strings.Join(lines, "\n"))
}

// deliver queues ev for m, dropping it if m is not keeping up.
func (l *lobby) deliver(m *member, ev tplayer.Event) {
	select {
	case m.ep.Events <- ev:
	default:
		l.log.Debug("Dropping event for slow guest", "player", m.guest.Player)
	}
}

func (l *lobby) leave(key string, rm *room, m *member) {
	l.mu.Lock()
	delete(rm.members, m)
	if len(rm.members) == 0 && l.rooms[key] == rm {
		delete(l.rooms, key)
	}
	l.mu.Unlock()

	l.log.Info("Guest left room", "player", m.guest.Player, "room", rm.name)
}

func (l *lobby) realm(id string) (realmConfig, bool) {
	for _, r := range l.catalog {
		if r.ID == id {
			return r, true
		}
	}
	return realmConfig{}, false
}

func (l *lobby) Realms(_ context.Context, source twire.RealmSource) ([]twire.RealmEntry, error) {
	var out []twire.RealmEntry
	for _, r := range l.catalog {
		switch source.Kind {
		case twire.RealmsPublic:
		case twire.RealmsPersonal:
			if !source.Player.IsLocal() || r.Owner != source.Player.Name {
				continue
			}
		default:
			// The lobby keeps no bookmarks.
			return nil, nil
		}
		out = append(out, twire.RealmEntry{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// ConsensualEmote is accepted whenever recipient is present in some room.
func (l *lobby) ConsensualEmote(_ context.Context, _ tplayer.ID, recipient, _ string) (bool, error) {
	return l.present(recipient), nil
}

// Follow is accepted whenever target is present in some room.
func (l *lobby) Follow(_ context.Context, _ tplayer.ID, target string) (bool, error) {
	return l.present(target), nil
}

func (l *lobby) present(name string) bool {
	id := tplayer.Local(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rm := range l.rooms {
		for m := range rm.members {
			if m.guest.Player == id {
				return true
			}
		}
	}
	return false
}
