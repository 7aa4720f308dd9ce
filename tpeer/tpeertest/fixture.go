package tpeertest

import (
	"context"
	"testing"

	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tconn/tconntest"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
)

// Fixture is a running actor wired to fakes,
// with the test holding the remote end of its connection.
type Fixture struct {
	Actor *tpeer.Actor

	Directory  *Directory
	Store      *Store
	Assets     *Assets
	Handshaker *Handshaker

	// Receives the remote name once the actor has stopped.
	Stopped chan string

	Local, Remote string
}

// FixtureConfig customizes [NewFixture].
// Zero fields get defaults.
type FixtureConfig struct {
	Local, Remote string

	Capabilities tplayer.Capabilities

	Players []tpeer.PlayerRecord

	Connection tconn.Config
}

// NewFixture starts an actor that stops when the test finishes.
func NewFixture(t *testing.T, ctx context.Context, cfg FixtureConfig) *Fixture {
	t.Helper()

	if cfg.Local == "" {
		cfg.Local = "local.example"
	}
	if cfg.Remote == "" {
		cfg.Remote = "example.org"
	}
	if cfg.Capabilities.Len() == 0 {
		cfg.Capabilities = tplayer.AllCapabilities()
	}

	f := &Fixture{
		Directory:  NewDirectory(),
		Store:      NewStore(cfg.Players...),
		Assets:     NewAssets(nil),
		Handshaker: NewHandshaker(),

		Stopped: make(chan string, 1),

		Local:  cfg.Local,
		Remote: cfg.Remote,
	}

	f.Actor = tpeer.NewActor(ctx, ttest.NewLogger(t), tpeer.Config{
		Local:        cfg.Local,
		Remote:       cfg.Remote,
		Capabilities: cfg.Capabilities,

		Directory:  f.Directory,
		Store:      f.Store,
		Assets:     f.Assets,
		Handshaker: f.Handshaker,

		Connection: cfg.Connection,

		OnStop: func(remote string) {
			f.Stopped <- remote
		},
	})

	t.Cleanup(func() {
		f.Actor.Quit()
		f.Actor.Wait()
	})

	return f
}

// Connect installs a fresh in-memory socket on the actor
// and returns the test's end of it.
// The remote advertises caps.
func (f *Fixture) Connect(t *testing.T, ctx context.Context, caps tplayer.Capabilities) *tconntest.Socket {
	t.Helper()

	local, remote := tconntest.Pipe()
	if err := f.Actor.Connect(ctx, local, caps); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return remote
}

// Snapshot returns the actor's snapshot, failing the test on error.
func (f *Fixture) Snapshot(t *testing.T, ctx context.Context) tpeer.Snapshot {
	t.Helper()

	s, err := f.Actor.Snapshot(ctx)
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	return s
}

// RemotePlayer returns a principal of the remote instance.
func (f *Fixture) RemotePlayer(name string) tplayer.ID {
	return tplayer.Remote(f.Remote, name)
}

// LocalPlayer returns a principal of the local instance, qualified as on the wire.
func (f *Fixture) LocalPlayer(name string) tplayer.ID {
	return tplayer.Remote(f.Local, name)
}
