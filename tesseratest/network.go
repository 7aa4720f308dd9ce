package tesseratest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gordian-engine/tessera"
	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tconn/tconntest"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tpeer/tpeertest"
	"github.com/gordian-engine/tessera/tplayer"
)

// Network is a set of registries whose handshakes
// complete instantly over in-memory pipes.
type Network struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

// Instance is one registry in a [Network], with its fakes.
type Instance struct {
	Registry *tessera.Registry
	World    *World
	Store    *tpeertest.Store
	Assets   *tpeertest.Assets
}

// NewNetwork starts one registry per name.
// Every instance stores the given players.
//
// The registries stop when ctx is canceled or the test finishes.
func NewNetwork(
	t *testing.T, ctx context.Context, names []string, players ...tpeer.PlayerRecord,
) *Network {
	t.Helper()

	ctx, cancel := context.WithCancel(ctx)

	n := &Network{instances: make(map[string]*Instance, len(names))}
	for _, name := range names {
		w := NewWorld()
		store := tpeertest.NewStore(players...)
		assets := tpeertest.NewAssets(nil)

		r := tessera.NewRegistry(ctx, ttest.NewLogger(t).With("instance", name), tessera.RegistryConfig{
			Local:      name,
			World:      w,
			Store:      store,
			Assets:     assets,
			Handshaker: handshaker{n: n, local: name},
		})

		n.instances[name] = &Instance{
			Registry: r,
			World:    w,
			Store:    store,
			Assets:   assets,
		}

		t.Cleanup(r.Wait)
	}

	// Registered after the Waits so that it runs first.
	t.Cleanup(cancel)

	return n
}

// Instance returns the named instance, panicking if it does not exist.
func (n *Network) Instance(name string) *Instance {
	n.mu.Lock()
	defer n.mu.Unlock()

	in, ok := n.instances[name]
	if !ok {
		panic(fmt.Errorf("BUG: no instance named %q", name))
	}
	return in
}

// Join connects a new client for the local player name to the instance,
// failing the test on error.
func (in *Instance) Join(t *testing.T, ctx context.Context, name string, avatar tplayer.Avatar) *tplayer.Client {
	t.Helper()

	c, s := tplayer.NewClient(tplayer.Local(name), tplayer.AllCapabilities(), avatar, 16)
	t.Cleanup(c.Disconnect)

	if err := in.Registry.Join(ctx, tplayer.NewHandle(s)); err != nil {
		t.Fatalf("failed to join %q: %v", name, err)
	}
	return c
}

// handshaker connects two registries of the same network
// with a fresh in-memory pipe.
type handshaker struct {
	n     *Network
	local string
}

func (h handshaker) Initiate(ctx context.Context, remote string) error {
	h.n.mu.Lock()
	l, lok := h.n.instances[h.local]
	r, rok := h.n.instances[remote]
	h.n.mu.Unlock()

	if !lok || !rok {
		return fmt.Errorf("no route from %s to %s", h.local, remote)
	}

	ls, rs := tconntest.Pipe()
	if err := r.Registry.Connect(ctx, h.local, rs, tplayer.AllCapabilities()); err != nil {
		return fmt.Errorf("remote failed to accept connection: %w", err)
	}
	if err := l.Registry.Connect(ctx, remote, ls, tplayer.AllCapabilities()); err != nil {
		return fmt.Errorf("failed to install connection: %w", err)
	}
	return nil
}
