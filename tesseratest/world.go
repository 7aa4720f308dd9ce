// Package tesseratest contains fixtures for tests
// that run one or more [tessera.Registry] values in process.
package tesseratest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/tessera"
	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

// Attachment is a recorded, successful call to [*World.Attach]
// or to a [Host] built with [*World.Host].
type Attachment struct {
	Guest    tdest.Guest
	Target   tplayer.Target
	Endpoint tdest.Endpoint
}

// ErrClosedRealm is returned from [*World.Attach] for realms closed with [*World.Close].
var ErrClosedRealm = errors.New("realm is closed")

// World is an in-memory [tessera.World].
// Every attachment is recorded and backed by a [tdest.NewPair].
type World struct {
	Attachments chan Attachment

	mu     sync.Mutex
	realms []twire.RealmEntry
	closed map[string]bool

	emoteAnswer, followAnswer bool

	attachDelay time.Duration
}

var _ tessera.World = (*World)(nil)

func NewWorld() *World {
	return &World{
		Attachments: make(chan Attachment, 16),
		closed:      make(map[string]bool),
	}
}

func (w *World) Attach(_ context.Context, guest tdest.Guest, target tplayer.Target) (tdest.Destination, error) {
	w.mu.Lock()
	closed := target.Kind == tplayer.TargetRealm && w.closed[target.Name]
	delay := w.attachDelay
	w.mu.Unlock()
	if closed {
		return tdest.Destination{}, ErrClosedRealm
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	dest, ep := tdest.NewPair(16)
	w.Attachments <- Attachment{Guest: guest, Target: target, Endpoint: ep}
	return dest, nil
}

// SetAttachDelay makes every later Attach call take at least d.
func (w *World) SetAttachDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attachDelay = d
}

// Close makes later attachments to the named realm fail.
func (w *World) Close(realm string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed[realm] = true
}

// Host returns a [tessera.Host] that records its admissions
// on w.Attachments, with a host target for name.
func (w *World) Host(name string) tessera.Host {
	return tessera.HostFunc(func(_ context.Context, guest tdest.Guest) (tdest.Destination, error) {
		dest, ep := tdest.NewPair(16)
		w.Attachments <- Attachment{
			Guest:    guest,
			Target:   tplayer.HostTarget("", name),
			Endpoint: ep,
		}
		return dest, nil
	})
}

func (w *World) SetRealms(entries []twire.RealmEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.realms = slices.Clone(entries)
}

func (w *World) Realms(context.Context, twire.RealmSource) ([]twire.RealmEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.realms), nil
}

// SetAnswers sets the results of ConsensualEmote and Follow.
func (w *World) SetAnswers(emote, follow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emoteAnswer = emote
	w.followAnswer = follow
}

func (w *World) ConsensualEmote(context.Context, tplayer.ID, string, string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emoteAnswer, nil
}

func (w *World) Follow(context.Context, tplayer.ID, string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.followAnswer, nil
}
