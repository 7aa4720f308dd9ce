// Package tpeertest contains fakes of the collaborators of a tpeer.Actor.
package tpeertest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

// Launch is a recorded call to [*Directory.Relaunch].
type Launch struct {
	Handle *tplayer.Handle
	Target tplayer.Target
}

// Attachment is a recorded, successful call to [*Directory.AttachGuest].
type Attachment struct {
	Guest    tdest.Guest
	Target   tplayer.Target
	Endpoint tdest.Endpoint
}

// Notification is a recorded call to [*Directory.Notify].
type Notification struct {
	Name  string
	Event tplayer.Event
}

// Directory is a fake [tpeer.Directory].
// Zero-valued fields give permissive defaults.
type Directory struct {
	// Buffered channels of recorded calls.
	Launches      chan Launch
	Attachments   chan Attachment
	Notifications chan Notification

	mu sync.Mutex

	visiting map[string]string

	online map[string]twire.PlayerState
	realms []twire.RealmEntry

	emoteAnswer, followAnswer bool

	// If set, AttachGuest returns this error.
	denyErr error

	// If set, AttachGuest blocks until the channel is closed or ctx is done.
	admitGate chan struct{}
}

var _ tpeer.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		Launches:      make(chan Launch, 16),
		Attachments:   make(chan Attachment, 16),
		Notifications: make(chan Notification, 16),

		visiting: make(map[string]string),
		online:   make(map[string]twire.PlayerState),
	}
}

func (d *Directory) Relaunch(h *tplayer.Handle, target tplayer.Target) {
	d.Launches <- Launch{Handle: h, Target: target}
}

func (d *Directory) SetOnline(name string, s twire.PlayerState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[name] = s
}

func (d *Directory) OnlineState(_ context.Context, _ tplayer.ID, name string) (twire.PlayerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[name], nil
}

func (d *Directory) UpdatePlayer(name, visiting string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if visiting == "" {
		delete(d.visiting, name)
	} else {
		d.visiting[name] = visiting
	}
}

// Visiting returns the last value passed to UpdatePlayer for name.
func (d *Directory) Visiting(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visiting[name]
}

// Deny makes subsequent AttachGuest calls fail with err.
// A nil err admits again.
func (d *Directory) Deny(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denyErr = err
}

// HoldAdmissions makes subsequent AttachGuest calls block
// until the returned function is called.
func (d *Directory) HoldAdmissions() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gate := make(chan struct{})
	d.admitGate = gate

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (d *Directory) AttachGuest(
	ctx context.Context, guest tdest.Guest, target tplayer.Target,
) (tdest.Destination, error) {
	d.mu.Lock()
	denyErr := d.denyErr
	gate := d.admitGate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return tdest.Destination{}, context.Cause(ctx)
		case <-gate:
		}
	}

	if denyErr != nil {
		return tdest.Destination{}, denyErr
	}

	dest, ep := tdest.NewPair(16)
	d.Attachments <- Attachment{Guest: guest, Target: target, Endpoint: ep}
	return dest, nil
}

func (d *Directory) Notify(_ context.Context, name string, ev tplayer.Event) bool {
	d.Notifications <- Notification{Name: name, Event: ev}
	return true
}

// SetAnswers sets the results of ConsensualEmote and Follow.
func (d *Directory) SetAnswers(emote, follow bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emoteAnswer = emote
	d.followAnswer = follow
}

func (d *Directory) ConsensualEmote(context.Context, tplayer.ID, string, string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emoteAnswer, nil
}

func (d *Directory) Follow(context.Context, tplayer.ID, string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.followAnswer, nil
}

func (d *Directory) SetRealms(entries []twire.RealmEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.realms = slices.Clone(entries)
}

func (d *Directory) Realms(context.Context, twire.RealmSource) ([]twire.RealmEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.realms), nil
}

// Store is an in-memory [tpeer.Store].
type Store struct {
	mu       sync.Mutex
	players  map[string]tpeer.PlayerRecord
	messages []tpeer.DirectMessageRecord
}

var _ tpeer.Store = (*Store)(nil)

// NewStore returns a Store containing the given players.
func NewStore(players ...tpeer.PlayerRecord) *Store {
	s := &Store{players: make(map[string]tpeer.PlayerRecord, len(players))}
	for _, p := range players {
		s.players[p.Name] = p
	}
	return s
}

func (s *Store) LoadPlayer(_ context.Context, name string) (tpeer.PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[name]
	if !ok {
		return tpeer.PlayerRecord{}, tpeer.ErrUnknownPlayer
	}
	return p, nil
}

func (s *Store) WriteDirectMessage(_ context.Context, rec tpeer.DirectMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[rec.Recipient]; !ok {
		return tpeer.ErrUnknownPlayer
	}
	s.messages = append(s.messages, rec)
	return nil
}

func (s *Store) ReadDirectMessages(
	_ context.Context, recipient string, since time.Time,
) ([]tpeer.DirectMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tpeer.DirectMessageRecord
	for _, m := range s.messages {
		if m.Recipient == recipient && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Assets is an in-memory [tpeer.AssetManager].
type Assets struct {
	mu     sync.Mutex
	assets map[string][]byte

	// Receives a value for every Push call.
	Pushed chan map[string][]byte
}

var _ tpeer.AssetManager = (*Assets)(nil)

func NewAssets(initial map[string][]byte) *Assets {
	a := &Assets{
		assets: make(map[string][]byte, len(initial)),
		Pushed: make(chan map[string][]byte, 16),
	}
	for k, v := range initial {
		a.assets[k] = slices.Clone(v)
	}
	return a
}

func (a *Assets) Pull(_ context.Context, names []string) (map[string][]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string][]byte, len(names))
	for _, n := range names {
		if v, ok := a.assets[n]; ok {
			out[n] = slices.Clone(v)
		}
	}
	return out, nil
}

func (a *Assets) Push(_ context.Context, assets map[string][]byte) error {
	a.mu.Lock()
	for k, v := range assets {
		a.assets[k] = slices.Clone(v)
	}
	a.mu.Unlock()

	a.Pushed <- assets
	return nil
}

func (a *Assets) Missing(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.assets[name]
	return !ok
}

// Handshaker is a fake [tpeer.Handshaker] that records remotes.
type Handshaker struct {
	Calls chan string

	// Returned from every Initiate call.
	Err error
}

var _ tpeer.Handshaker = (*Handshaker)(nil)

func NewHandshaker() *Handshaker {
	return &Handshaker{Calls: make(chan string, 16)}
}

func (h *Handshaker) Initiate(_ context.Context, remote string) error {
	h.Calls <- remote
	return h.Err
}

// ErrDenied is a convenient error for [*Directory.Deny].
var ErrDenied = errors.New("admission denied")
