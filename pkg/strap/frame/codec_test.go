package frame

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeByte(t *testing.T) {
	testCases := []struct {
		in      byte
		escaped bool
		out     byte
	}{
		{0x00, false, 0x00},
		{0x42, false, 0x42},
		{Flag, true, Flag ^ EscapeMask},
		{Escape, true, Escape ^ EscapeMask},
		{0xFF, false, 0xFF},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%02x", tc.in), func(t *testing.T) {
			escaped, out := EncodeByte(tc.in)
			require.Equal(t, tc.escaped, escaped)
			require.Equal(t, tc.out, out)
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	var dec Decoder
	for i := 0; i < 256; i++ {
		b := byte(i)
		escaped, wire := EncodeByte(b)
		if escaped {
			out, complete, store, err := dec.Feed(Escape)
			require.NoError(t, err)
			require.False(t, complete)
			require.False(t, store)
			require.Zero(t, out)
		}
		out, complete, store, err := dec.Feed(wire)
		require.NoErrorf(t, err, "byte %02x", b)
		require.False(t, complete)
		require.True(t, store)
		require.Equalf(t, b, out, "byte %02x round trip", b)
	}
}

func TestDecoderFrameComplete(t *testing.T) {
	var dec Decoder
	_, complete, store, err := dec.Feed(Flag)
	require.NoError(t, err)
	require.True(t, complete)
	require.False(t, store)
}

func TestDecoderEscapeErrors(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
	}{
		{"double escape", []byte{Escape, Escape}},
		{"escape then flag", []byte{Escape, Flag}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var dec Decoder
			_, _, _, err := dec.Feed(tc.in[0])
			require.NoError(t, err)
			_, complete, store, err := dec.Feed(tc.in[1])
			require.Equal(t, ErrEscape, err)
			require.False(t, complete)
			require.False(t, store)

			// the error clears the pending escape
			out, complete, store, err := dec.Feed(0x42)
			require.NoError(t, err)
			require.False(t, complete)
			require.True(t, store)
			require.Equal(t, byte(0x42), out)
		})
	}
}

func TestDecoderReset(t *testing.T) {
	var dec Decoder
	_, _, _, err := dec.Feed(Escape)
	require.NoError(t, err)
	dec.Reset()
	out, complete, store, err := dec.Feed(Flag ^ EscapeMask)
	require.NoError(t, err)
	require.False(t, complete)
	require.True(t, store)
	// pending escape is gone, so the byte is not unescaped
	require.Equal(t, Flag^EscapeMask, out)
}
