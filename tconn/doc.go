// Package tconn contains [Connection],
// the resilience layer between a peer actor and its physical socket.
//
// A Connection is Online while it holds a working socket.
// When the socket fails it goes Dead and queues outbound messages
// for a grace window, so that a quick reconnection replays them in order.
// Once the grace window elapses the queue is discarded and the Connection is Offline
// until a new socket is established.
//
// Concrete sockets live in the tquic and tws packages;
// the tconntest package has an in-memory pair for tests.
package tconn
