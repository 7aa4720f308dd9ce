// Package tessera federates independently operated instances
// of a persistent shared world.
//
// Each remote instance is served by one [tpeer.Actor],
// which owns the connection to that instance
// and hands players back and forth with it.
// The [Registry] creates those actors on demand,
// tracks where every local player currently is,
// and implements the [tpeer.Directory] the actors consult.
//
// Transports and the connection handshake live in
// the tquic, tws and thandshake packages;
// cmd/tessera wires everything into a runnable server.
package tessera
