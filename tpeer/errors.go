package tpeer

import "errors"

// ErrActorStopped is returned from Actor methods
// when the actor stopped before the operation completed.
// Outstanding requests are never answered after the actor stops.
var ErrActorStopped = errors.New("peer actor stopped")

// ErrAlreadyVisiting is returned from [*Actor.SendPlayer]
// when the player is already visiting the remote instance.
var ErrAlreadyVisiting = errors.New("player is already visiting peer")

// ErrUnknownPlayer is returned from [Store.LoadPlayer]
// for a player that does not exist.
var ErrUnknownPlayer = errors.New("unknown player")
