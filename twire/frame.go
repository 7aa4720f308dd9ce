package twire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the size of a single frame on stream transports.
const MaxFrameSize = 16 << 20

// FrameTooLargeError is returned from [ReadFrame] and [WriteFrame]
// when a frame exceeds [MaxFrameSize].
type FrameTooLargeError struct {
	Size uint32
}

func (e FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame size %d exceeds maximum %d", e.Size, MaxFrameSize)
}

// WriteFrame writes b to w prefixed by its 4-byte big endian length.
// The prefix and payload are written in a single call,
// so concurrent writers on a message-oriented w do not interleave.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return FrameTooLargeError{Size: uint32(len(b))}
	}

	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by [WriteFrame].
// A clean end of stream before the length prefix returns [io.EOF] unwrapped.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	sz := binary.BigEndian.Uint32(hdr[:])
	if sz > MaxFrameSize {
		return nil, FrameTooLargeError{Size: sz}
	}

	buf := make([]byte, sz)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return buf, nil
}
