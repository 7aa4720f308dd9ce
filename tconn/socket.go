package tconn

// Socket is one physical, reliable, ordered, framed link to a peer.
//
// WriteFrame is only called from the goroutine owning the [Connection];
// ReadFrame is only called from the Connection's reader goroutine.
// Close may be called concurrently with either,
// and must unblock a pending ReadFrame.
type Socket interface {
	WriteFrame(b []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}
