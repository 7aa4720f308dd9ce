package tessera

import "errors"

// UnknownPeerError is returned when a remote instance
// is not one this registry will talk to.
type UnknownPeerError struct {
	Remote string
}

func (e UnknownPeerError) Error() string {
	return "unknown peer instance " + e.Remote
}

// UnknownHostError is returned when a guest is sent to
// a host that is not currently admitting guests.
type UnknownHostError struct {
	Host string
}

func (e UnknownHostError) Error() string {
	return "no hosted space for " + e.Host
}

// ErrAlreadyJoined is returned from [*Registry.Join]
// for a player who already has a live session.
var ErrAlreadyJoined = errors.New("player already joined")

// ErrNotLocal is returned when a session for a remote principal
// is given where a local player is required.
var ErrNotLocal = errors.New("player is not local to this instance")
