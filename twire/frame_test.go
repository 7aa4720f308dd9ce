package twire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/gordian-engine/tessera/twire"
	"github.com/stretchr/testify/require"
)

func TestFrame_roundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, twire.WriteFrame(&buf, []byte("first")))
	require.NoError(t, twire.WriteFrame(&buf, nil))
	require.NoError(t, twire.WriteFrame(&buf, []byte("third")))

	got, err := twire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	got, err = twire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = twire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("third"), got)

	_, err = twire.ReadFrame(&buf)
	require.Equal(t, io.EOF, err)
}

func TestReadFrame_tooLarge(t *testing.T) {
	t.Parallel()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], twire.MaxFrameSize+1)

	_, err := twire.ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorAs(t, err, new(twire.FrameTooLargeError))
}

func TestReadFrame_truncatedBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, twire.WriteFrame(&buf, []byte("hello")))
	b := buf.Bytes()[:buf.Len()-2]

	_, err := twire.ReadFrame(bytes.NewReader(b))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
