package tessera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/internal/ttrace"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
)

// RegistryConfig is the configuration for [NewRegistry].
type RegistryConfig struct {
	// Name of this instance, as peers know it.
	Local string

	// Capabilities this instance supports.
	// Defaults to every known capability.
	Capabilities tplayer.Capabilities

	World World

	// Optional collaborators passed to every actor.
	Store      tpeer.Store
	Assets     tpeer.AssetManager
	Handshaker tpeer.Handshaker

	// If non-empty, only these remote instances may be peered with.
	Peers []string

	Connection tconn.Config

	TracerProvider ttrace.TracerProvider

	// Clock for last-seen times. Defaults to time.Now.
	Now func() time.Time

	// Upper bound on each background hand-off started by [*Registry.Relaunch].
	// Defaults to 10 seconds.
	RelaunchTimeout time.Duration
}

// Registry is the process-wide map of peer actors and local players.
// It creates a [tpeer.Actor] lazily for each remote instance,
// and serves as the [tpeer.Directory] for all of them.
type Registry struct {
	log *slog.Logger

	// Root context for actors and session pumps,
	// which outlive the request that created them.
	ctx context.Context

	local   string
	caps    tplayer.Capabilities
	world   World
	allowed []string

	store      tpeer.Store
	assets     tpeer.AssetManager
	handshaker tpeer.Handshaker

	connCfg         tconn.Config
	tp              ttrace.TracerProvider
	now             func() time.Time
	relaunchTimeout time.Duration

	// Guards the maps below.
	// Held only for single map operations, never across a call into an actor.
	mu       sync.Mutex
	peers    map[string]*tpeer.Actor
	players  map[string]*playerEntry
	hosting  map[string]Host
	lastSeen map[string]time.Time

	wg sync.WaitGroup
}

// playerEntry is where a local player currently is.
type playerEntry struct {
	session *tplayer.Session

	// Remote instance the player is visiting; empty while local.
	visiting string
}

var _ tpeer.Directory = (*Registry)(nil)

// NewRegistry returns a Registry for the instance cfg.Local.
// Actors and session pumps started by the registry stop when ctx is canceled;
// use [*Registry.Wait] to wait for them.
func NewRegistry(ctx context.Context, log *slog.Logger, cfg RegistryConfig) *Registry {
	if cfg.Local == "" {
		panic(errors.New("BUG: RegistryConfig.Local must not be empty"))
	}
	if cfg.World == nil {
		panic(errors.New("BUG: RegistryConfig.World must not be nil"))
	}
	if cfg.Capabilities.Len() == 0 {
		cfg.Capabilities = tplayer.AllCapabilities()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RelaunchTimeout <= 0 {
		cfg.RelaunchTimeout = 10 * time.Second
	}

	return &Registry{
		log: log,
		ctx: ctx,

		local:   cfg.Local,
		caps:    cfg.Capabilities,
		world:   cfg.World,
		allowed: slices.Clone(cfg.Peers),

		store:      cfg.Store,
		assets:     cfg.Assets,
		handshaker: cfg.Handshaker,

		connCfg:         cfg.Connection,
		tp:              cfg.TracerProvider,
		now:             cfg.Now,
		relaunchTimeout: cfg.RelaunchTimeout,

		peers:    make(map[string]*tpeer.Actor),
		players:  make(map[string]*playerEntry),
		hosting:  make(map[string]Host),
		lastSeen: make(map[string]time.Time),
	}
}

// Local returns the name of this instance.
func (r *Registry) Local() string {
	return r.local
}

// Wait blocks until every actor, session pump and relaunch has stopped.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Peer returns the actor for remote, creating it if needed.
// A newly created actor starts an outbound handshake.
func (r *Registry) Peer(ctx context.Context, remote string) (*tpeer.Actor, error) {
	a, created, err := r.peer(remote)
	if err != nil {
		return nil, err
	}
	if created && r.handshaker != nil {
		if err := a.InitiateConnection(ctx); err != nil {
			return nil, fmt.Errorf("failed to initiate connection to %s: %w", remote, err)
		}
	}
	return a, nil
}

// Connect installs a socket to remote produced by a completed handshake.
// caps are the capabilities the remote advertised.
func (r *Registry) Connect(
	ctx context.Context, remote string, s tconn.Socket, caps tplayer.Capabilities,
) error {
	// The remote is already talking to us, so a new actor does not dial out.
	a, _, err := r.peer(remote)
	if err != nil {
		return err
	}
	return a.Connect(ctx, s, caps)
}

// Peers returns the sorted names of remotes with a live actor.
func (r *Registry) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.peers))
	for name := range r.peers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Allowed reports whether remote may be peered with.
func (r *Registry) Allowed(remote string) bool {
	if remote == "" || remote == r.local {
		return false
	}
	return len(r.allowed) == 0 || slices.Contains(r.allowed, remote)
}

func (r *Registry) peer(remote string) (a *tpeer.Actor, created bool, err error) {
	if !r.Allowed(remote) {
		return nil, false, UnknownPeerError{Remote: remote}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.peers[remote]; ok {
		return a, false, nil
	}

	r.wg.Add(1)
	a = tpeer.NewActor(r.ctx, r.log.With("sys", "peer"), tpeer.Config{
		Local:        r.local,
		Remote:       remote,
		Capabilities: r.caps,

		Directory:  r,
		Store:      r.store,
		Assets:     r.assets,
		Handshaker: r.handshaker,

		Connection:     r.connCfg,
		TracerProvider: r.tp,

		OnStop: r.removePeer,
	})
	r.peers[remote] = a

	r.log.Info("Created peer actor", "remote", remote)
	return a, true, nil
}

// removePeer is called from the actor's goroutine as it stops.
// A later Peer call creates a fresh actor.
func (r *Registry) removePeer(remote string) {
	r.mu.Lock()
	delete(r.peers, remote)
	r.mu.Unlock()

	r.wg.Done()
}

// Host makes the space of the local player named name admit guests.
// It replaces any previous registration for name.
func (r *Registry) Host(name string, h Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosting[name] = h
}

// Unhost stops admitting guests to the space of name.
// Guests already admitted are unaffected.
func (r *Registry) Unhost(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosting, name)
}

func (r *Registry) host(name string) (Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosting[name]
	return h, ok
}
