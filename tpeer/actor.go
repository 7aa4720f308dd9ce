package tpeer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/tessera/internal/ttrace"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tplayer"
)

// Config is the configuration for [NewActor].
type Config struct {
	// Name of this instance, as the remote knows it.
	Local string

	// Name of the remote instance.
	Remote string

	// Capabilities this instance supports.
	// Visitors are only sent or admitted with a subset of these.
	Capabilities tplayer.Capabilities

	Directory  Directory
	Store      Store
	Assets     AssetManager
	Handshaker Handshaker

	Connection tconn.Config

	// Optional; defaults to the no-op provider.
	TracerProvider ttrace.TracerProvider

	// Called once, from the actor's goroutine, after the actor stops.
	OnStop func(remote string)

	// Clock for direct message timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Actor manages all interaction with one remote instance.
// Create one with [NewActor].
type Actor struct {
	log    *slog.Logger
	tracer ttrace.Tracer

	local, remote string
	caps          tplayer.Capabilities

	dir        Directory
	store      Store
	assets     AssetManager
	handshaker Handshaker

	now    func() time.Time
	onStop func(string)

	cancel context.CancelFunc

	conn *tconn.Connection

	// Fields below are only accessed from the main loop.

	// Capabilities from the remote's most recent handshake claim.
	remoteCaps      tplayer.Capabilities
	remoteCapsKnown bool

	nextID uint32
	tables correlationTables

	// Local players visiting the remote, keyed by name.
	onPeer map[string]*onPeerEntry

	// Remote players visiting here, keyed by name.
	fromPeer map[string]*fromPeerEntry

	// Remote players whose admission is running in the background.
	arriving map[string]*arrival

	nextGen uint64

	// Inputs to the main loop.
	connectRequests    chan connectRequest
	initiateRequests   chan struct{}
	onlineRequests     chan onlineRequest
	directMessageReqs  chan directMessageRequest
	realmsRequests     chan realmsRequest
	emoteRequests      chan emoteRequest
	followRequests     chan followRequest
	sendPlayerRequests chan sendPlayerRequest
	pullAssetsRequests chan pullAssetsRequest
	pushAssetsRequests chan pushAssetsRequest
	snapshotRequests   chan chan Snapshot
	backgroundResults  chan func()
	adapterEvents      chan adapterEvent

	done chan struct{}
}

// NewActor returns a running Actor for cfg.Remote.
// The actor's connection starts Dead, so messages sent before
// the first [*Actor.Connect] are queued for the grace window.
//
// The actor stops when ctx is canceled or [*Actor.Quit] is called.
func NewActor(ctx context.Context, log *slog.Logger, cfg Config) *Actor {
	if cfg.Local == "" || cfg.Remote == "" {
		panic(fmt.Errorf(
			"BUG: NewActor requires Local and Remote (got %q and %q)",
			cfg.Local, cfg.Remote,
		))
	}
	if cfg.Local == cfg.Remote {
		panic(fmt.Errorf("BUG: NewActor called with Local == Remote == %q", cfg.Local))
	}
	if cfg.Directory == nil {
		panic(fmt.Errorf("BUG: NewActor requires a Directory"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)

	log = log.With("remote", cfg.Remote)

	a := &Actor{
		log:    log,
		tracer: ttrace.NewTracer(cfg.TracerProvider),

		local:  cfg.Local,
		remote: cfg.Remote,
		caps:   cfg.Capabilities,

		dir:        cfg.Directory,
		store:      cfg.Store,
		assets:     cfg.Assets,
		handshaker: cfg.Handshaker,

		now:    cfg.Now,
		onStop: cfg.OnStop,

		cancel: cancel,

		conn: tconn.New(ctx, log.With("sys", "conn"), cfg.Connection),

		tables: newCorrelationTables(),

		onPeer:   make(map[string]*onPeerEntry),
		fromPeer: make(map[string]*fromPeerEntry),
		arriving: make(map[string]*arrival),

		// Unbuffered: callers block until the main loop accepts.
		connectRequests:    make(chan connectRequest),
		initiateRequests:   make(chan struct{}),
		onlineRequests:     make(chan onlineRequest),
		directMessageReqs:  make(chan directMessageRequest),
		realmsRequests:     make(chan realmsRequest),
		emoteRequests:      make(chan emoteRequest),
		followRequests:     make(chan followRequest),
		sendPlayerRequests: make(chan sendPlayerRequest),
		pullAssetsRequests: make(chan pullAssetsRequest),
		pushAssetsRequests: make(chan pushAssetsRequest),
		snapshotRequests:   make(chan chan Snapshot),

		backgroundResults: make(chan func(), 16),
		adapterEvents:     make(chan adapterEvent, 64),

		done: make(chan struct{}),
	}

	go a.mainLoop(ctx)

	return a
}

// Remote returns the name of the remote instance.
func (a *Actor) Remote() string {
	return a.remote
}

// Quit stops the actor. It does not wait for the actor to finish;
// use [*Actor.Wait] for that.
func (a *Actor) Quit() {
	a.cancel()
}

// Wait blocks until the actor's main loop has returned
// and its OnStop callback has been called.
func (a *Actor) Wait() {
	<-a.done
}

// Done returns a channel that is closed when the actor has stopped.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) mainLoop(ctx context.Context) {
	defer close(a.done)
	defer a.stop(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case in := <-a.conn.Inbound():
			if in.Lost {
				// The connection already moved itself to Dead.
				a.log.Info("Connection lost; queueing until reconnect", "err", in.Err)
				continue
			}
			a.handleWire(ctx, in.Msg)

		case req := <-a.connectRequests:
			a.handleConnect(req)

		case <-a.initiateRequests:
			a.handleInitiate(ctx)

		case req := <-a.onlineRequests:
			a.handleOnlineRequest(req)

		case req := <-a.directMessageReqs:
			a.handleDirectMessageRequest(req)

		case req := <-a.realmsRequests:
			a.handleRealmsRequest(req)

		case req := <-a.emoteRequests:
			a.handleEmoteRequest(req)

		case req := <-a.followRequests:
			a.handleFollowRequest(req)

		case req := <-a.sendPlayerRequests:
			a.handleSendPlayer(ctx, req)

		case req := <-a.pullAssetsRequests:
			a.handlePullAssets(req)

		case req := <-a.pushAssetsRequests:
			a.handlePushAssets(req)

		case ch := <-a.snapshotRequests:
			// Assume the response channel is buffered.
			ch <- a.snapshot()

		case fn := <-a.backgroundResults:
			fn()

		case ev := <-a.adapterEvents:
			a.handleAdapterEvent(ctx, ev)
		}
	}
}

// stop releases everything the actor owns.
// Continuations in the correlation tables are dropped;
// their callers observe ErrActorStopped through a.done.
func (a *Actor) stop(ctx context.Context) {
	a.conn.Close()

	for name, ar := range a.arriving {
		ar.cancel()
		delete(a.arriving, name)
	}

	for name, e := range a.fromPeer {
		e.cancel()
		e.dest.Leave()
		delete(a.fromPeer, name)
	}

	// Local players visiting the remote would otherwise be stranded.
	// The directory owns their way home, as this actor is going away.
	for name, e := range a.onPeer {
		e.cancel()
		delete(a.onPeer, name)
		a.dir.UpdatePlayer(name, "")
		a.dir.Relaunch(e.handle, tplayer.HomeTarget())
	}

	if a.onStop != nil {
		a.onStop(a.remote)
	}
}

// spawn runs fn in a background goroutine under a new span.
// If fn returns a non-nil function,
// that function is later run on the main loop.
func (a *Actor) spawn(ctx context.Context, spanName string, fn func(ctx context.Context) func()) {
	go func() {
		ctx, span := a.tracer.Start(ctx, spanName, ttrace.WithAttributes(ttrace.RemoteAttr(a.remote)))
		defer span.End()

		apply := fn(ctx)
		if apply == nil {
			return
		}

		select {
		case <-ctx.Done():
		case a.backgroundResults <- apply:
		}
	}()
}

func (a *Actor) mintID() uint32 {
	a.nextID++
	return a.nextID
}

func (a *Actor) mintGen() uint64 {
	a.nextGen++
	return a.nextGen
}
