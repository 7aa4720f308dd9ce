package twire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/tessera/tplayer"
)

// encoder appends a message body to buf.
// Appending to a byte slice cannot fail,
// so unlike the decoder there is no error state.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) bool(b bool) {
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) strings(ss []string) {
	e.uvarint(uint64(len(ss)))
	for _, s := range ss {
		e.string(s)
	}
}

// time encodes t as Unix nanoseconds;
// the zero time is encoded as zero.
func (e *encoder) time(t time.Time) {
	var ns int64
	if !t.IsZero() {
		ns = t.UnixNano()
	}
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(ns))
}

func (e *encoder) player(id tplayer.ID) {
	e.string(id.Server)
	e.string(id.Name)
}

func (e *encoder) target(t tplayer.Target) {
	e.byte(byte(t.Kind))
	e.string(t.Server)
	e.string(t.Name)
}

func (e *encoder) locationMessage(m tplayer.LocationMessage) {
	e.player(m.Sender)
	e.string(m.Body)
	e.time(m.Timestamp)
}

var errTruncated = errors.New("truncated message body")

// decoder reads a message body.
// The first failure is sticky:
// every later read returns zero values,
// and the caller checks err once at the end.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.fail(errTruncated)
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool {
	switch d.byte() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(errors.New("invalid boolean byte"))
		return false
	}
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail(errors.New("invalid uvarint"))
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// length reads a uvarint count of items that each take at least minSize bytes,
// rejecting counts that cannot fit in the remaining buffer.
// This bounds allocations driven by a hostile peer.
func (d *decoder) length(minSize int) int {
	n := d.uvarint()
	if d.err != nil {
		return 0
	}
	if n > uint64(len(d.buf)/max(minSize, 1)) {
		d.fail(fmt.Errorf("length %d exceeds remaining %d bytes", n, len(d.buf)))
		return 0
	}
	return int(n)
}

func (d *decoder) bytes() []byte {
	n := d.length(1)
	b := d.take(n)
	if len(b) == 0 {
		return nil
	}
	// Copy so the message does not retain the whole frame.
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) string() string {
	n := d.length(1)
	return string(d.take(n))
}

func (d *decoder) strings() []string {
	n := d.length(1)
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.string()
	}
	return out
}

func (d *decoder) time() time.Time {
	b := d.take(8)
	if b == nil {
		return time.Time{}
	}
	ns := int64(binary.BigEndian.Uint64(b))
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func (d *decoder) player() tplayer.ID {
	return tplayer.ID{
		Server: d.string(),
		Name:   d.string(),
	}
}

func (d *decoder) target() tplayer.Target {
	k := tplayer.TargetKind(d.byte())
	if k > tplayer.TargetHost {
		d.fail(fmt.Errorf("invalid target kind %d", k))
	}
	return tplayer.Target{
		Kind:   k,
		Server: d.string(),
		Name:   d.string(),
	}
}

func (d *decoder) locationMessage() tplayer.LocationMessage {
	return tplayer.LocationMessage{
		Sender:    d.player(),
		Body:      d.string(),
		Timestamp: d.time(),
	}
}
