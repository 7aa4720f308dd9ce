// Package twire defines the messages exchanged between two tessera instances
// over a peer connection, and their binary encoding.
//
// Every message is one frame.
// The first byte of a frame is the message [Tag];
// the rest is the message body.
// Integers are big endian or uvarint,
// strings and byte slices are uvarint-length-prefixed,
// and player principals are always fully qualified with their server.
//
// Requests that expect a reply carry a requester-chosen uint32 id,
// which the reply echoes.
package twire
