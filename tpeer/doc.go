// Package tpeer contains the [Actor],
// the sole owner of everything this instance knows about one remote instance:
// the [tconn.Connection] to it,
// the tables of requests awaiting its replies,
// and the players handed off in either direction.
//
// All of that state is owned by a single goroutine.
// Public methods on the Actor send a request to that goroutine
// and, where there is an answer, wait for it.
// Operations of unbounded duration (handshakes, store access, destination admission)
// run in background goroutines whose results are applied back on the main loop.
package tpeer
