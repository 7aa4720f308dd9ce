package tpeer

import (
	"context"
	"time"

	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

// Directory is the actor's view of the rest of this instance:
// local players, local destinations, and every other peer.
//
// Player names passed to Directory methods are local player names;
// IDs are localized, so a local player has an empty server.
//
// Except for UpdatePlayer and Relaunch, any method may block;
// the actor only calls them from background goroutines.
type Directory interface {
	// Relaunch starts handing the session in h to target,
	// which may be local or on any peer.
	// A target of kind None means a hand-off was refused
	// and the player should be put back where they were, or home.
	//
	// It is called from the actor's main loop and must not block.
	// The hand-off runs on the directory's own context,
	// so it completes even if the calling actor stops.
	Relaunch(h *tplayer.Handle, target tplayer.Target)

	// OnlineState reports whether the local player named name is online,
	// as visible to requester.
	OnlineState(ctx context.Context, requester tplayer.ID, name string) (twire.PlayerState, error)

	// UpdatePlayer records that the local player named name
	// is visiting the remote instance named visiting.
	// An empty visiting means the player is no longer visiting that peer.
	// It is called from the actor's main loop and must not block.
	UpdatePlayer(name, visiting string)

	// AttachGuest admits a visiting player to the local destination named by target.
	// Any error is treated as a refusal.
	AttachGuest(ctx context.Context, guest tdest.Guest, target tplayer.Target) (tdest.Destination, error)

	// Notify delivers ev to the local player named name,
	// wherever their session currently is.
	// It reports whether the player was reachable.
	Notify(ctx context.Context, name string, ev tplayer.Event) bool

	// ConsensualEmote asks the local player named recipient
	// whether to take part in emote with sender.
	ConsensualEmote(ctx context.Context, sender tplayer.ID, recipient, emote string) (bool, error)

	// Follow asks the local player named target whether source may follow them.
	Follow(ctx context.Context, source tplayer.ID, target string) (bool, error)

	// Realms lists local realms matching source.
	Realms(ctx context.Context, source twire.RealmSource) ([]twire.RealmEntry, error)
}

// PlayerRecord is the persisted part of a local player
// that the actor needs.
type PlayerRecord struct {
	Name string

	// Players whose direct messages are refused.
	Blocked []tplayer.ID
}

// IsBlocked reports whether p is in r.Blocked.
func (r PlayerRecord) IsBlocked(p tplayer.ID) bool {
	for _, b := range r.Blocked {
		if b == p {
			return true
		}
	}
	return false
}

// DirectMessageRecord is one stored direct message.
type DirectMessageRecord struct {
	Sender    tplayer.ID
	Recipient string
	Body      string
	Timestamp time.Time
}

// Store is the persistent store of local players.
type Store interface {
	// LoadPlayer returns [ErrUnknownPlayer] if there is no such player.
	LoadPlayer(ctx context.Context, name string) (PlayerRecord, error)

	WriteDirectMessage(ctx context.Context, rec DirectMessageRecord) error

	// ReadDirectMessages returns the messages to recipient
	// with a timestamp not before since, oldest first.
	ReadDirectMessages(ctx context.Context, recipient string, since time.Time) ([]DirectMessageRecord, error)
}

// AssetManager is the content-addressed asset cache.
type AssetManager interface {
	// Pull returns the contents of the named assets that are present.
	Pull(ctx context.Context, names []string) (map[string][]byte, error)

	Push(ctx context.Context, assets map[string][]byte) error

	// Missing reports whether the named asset is absent locally.
	Missing(name string) bool
}

// Handshaker performs the outbound half of connection setup.
// A successful Initiate only means the remote accepted the request;
// the resulting socket arrives later through [*Actor.Connect].
type Handshaker interface {
	Initiate(ctx context.Context, remote string) error
}
