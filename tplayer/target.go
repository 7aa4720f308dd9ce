package tplayer

import "fmt"

// TargetKind discriminates a [Target].
// The values are sent on the wire,
// so they are explicit rather than iota.
type TargetKind uint8

const (
	// Nowhere in particular.
	// On release this means the hand-off was refused.
	TargetNone TargetKind = 0

	// The player's home on the instance that authenticated them.
	TargetHome TargetKind = 1

	// A realm, identified by server and realm id.
	TargetRealm TargetKind = 2

	// Another player's hosted space, identified by server and host name.
	TargetHost TargetKind = 3
)

// Target is where a player is being sent.
type Target struct {
	Kind TargetKind

	// Server hosting the realm or host.
	// Empty means this instance.
	Server string

	// Realm id for TargetRealm, host player name for TargetHost.
	Name string
}

func NoTarget() Target { return Target{Kind: TargetNone} }

func HomeTarget() Target { return Target{Kind: TargetHome} }

func RealmTarget(server, realm string) Target {
	return Target{Kind: TargetRealm, Server: server, Name: realm}
}

func HostTarget(server, host string) Target {
	return Target{Kind: TargetHost, Server: server, Name: host}
}

// IsOn reports whether t is hosted by the instance named server.
// Targets without a server (none and home) are never on a remote server.
func (t Target) IsOn(server string) bool {
	switch t.Kind {
	case TargetRealm, TargetHost:
		return t.Server == server
	default:
		return false
	}
}

// Localize clears t's server if it names the local instance.
func (t Target) Localize(local string) Target {
	if t.Server == local {
		t.Server = ""
	}
	return t
}

// Qualify fills t's server for realm and host targets.
func (t Target) Qualify(local string) Target {
	if (t.Kind == TargetRealm || t.Kind == TargetHost) && t.Server == "" {
		t.Server = local
	}
	return t
}

func (t Target) String() string {
	switch t.Kind {
	case TargetNone:
		return "none"
	case TargetHome:
		return "home"
	case TargetRealm:
		return fmt.Sprintf("realm(%s@%s)", t.Name, t.Server)
	case TargetHost:
		return fmt.Sprintf("host(%s@%s)", t.Name, t.Server)
	default:
		return fmt.Sprintf("invalid(%d)", t.Kind)
	}
}
