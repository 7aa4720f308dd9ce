package tessera

import (
	"context"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

// World is the local simulation that owns in-world logic.
// The registry never interprets destination payloads;
// it only connects players to the destinations a World provides.
type World interface {
	// Attach connects guest to the destination named by target.
	// target is a realm or the player's home;
	// host targets are served by a registered [Host] instead.
	// Any error is treated as a refusal.
	Attach(ctx context.Context, guest tdest.Guest, target tplayer.Target) (tdest.Destination, error)

	// Realms lists the local realms matching source.
	Realms(ctx context.Context, source twire.RealmSource) ([]twire.RealmEntry, error)

	// ConsensualEmote asks the local player named recipient
	// whether to take part in emote with sender.
	ConsensualEmote(ctx context.Context, sender tplayer.ID, recipient, emote string) (bool, error)

	// Follow asks the local player named target
	// whether source may follow them.
	Follow(ctx context.Context, source tplayer.ID, target string) (bool, error)
}

// Host is a player's hosted space that admits guests.
type Host interface {
	Admit(ctx context.Context, guest tdest.Guest) (tdest.Destination, error)
}

// HostFunc adapts a function to the [Host] interface.
type HostFunc func(ctx context.Context, guest tdest.Guest) (tdest.Destination, error)

func (f HostFunc) Admit(ctx context.Context, guest tdest.Guest) (tdest.Destination, error) {
	return f(ctx, guest)
}
