package protocol

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 2, 127, 128, 255, 300, 25565, 2097151, math.MaxInt32, -1, math.MinInt32}

	for _, v := range values {
		enc := AppendVarInt(nil, v)
		require.Len(t, enc, VarIntLen(v), "value %d", v)

		got, err := ReadVarInt(bytes.NewReader(enc))
		require.NoError(t, err, "value %d", v)
		require.Equal(t, v, got)
	}
}

func TestReadVarInt_TooLong(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	require.Error(t, err)
}

func TestReadVarInt_Truncated(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80}))
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	body := []byte{0x04, 0xDE, 0xAD, 0xBE, 0xEF}

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, body))

	got, err := ReadFrame(&wire, make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrame_GrowsBuffer(t *testing.T) {
	body := bytes.Repeat([]byte{0x42}, 512)

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, body))

	got, err := ReadFrame(&wire, make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrame_RejectsBadLengths(t *testing.T) {
	// Zero-length frame.
	_, err := ReadFrame(bytes.NewReader(AppendVarInt(nil, 0)), nil)
	require.Error(t, err)

	// Length beyond the admission-window cap.
	_, err = ReadFrame(bytes.NewReader(AppendVarInt(nil, MaxFrameSize+1)), nil)
	require.Error(t, err)
}
