// Package tplayer contains the types that describe a player
// independently of where the player's session is currently hosted:
// principals ([ID]), travel targets ([Target]), capability sets ([Capabilities]),
// the transferable session descriptor ([Session] behind a [Handle]),
// and the request and event unions exchanged between a session and a destination.
package tplayer
