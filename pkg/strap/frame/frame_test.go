package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeParse(t *testing.T) {
	h := RequestHeader(0x0203, true)
	b := h.Encode()
	require.Equal(t, [HeaderLen]byte{Version, FlagIsMaster | FlagIsRead, 0x03, 0x02}, b)
	require.Equal(t, h, ParseHeader(b[:]))
}

func TestValidResponse(t *testing.T) {
	testCases := []struct {
		name         string
		h            Header
		profile      uint16
		expectNotify bool
		valid        bool
	}{
		{"response", Header{Version: 1, Profile: 3}, 3, false, true},
		{"wrong profile", Header{Version: 1, Profile: 4}, 3, false, false},
		{"bad version", Header{Version: 0, Profile: 3}, 3, false, false},
		{"future version", Header{Version: 9, Profile: 3}, 3, false, false},
		{"read set", Header{Version: 1, Flags: FlagIsRead, Profile: 3}, 3, false, false},
		{"master set", Header{Version: 1, Flags: FlagIsMaster, Profile: 3}, 3, false, false},
		{"reserved set", Header{Version: 1, Flags: 0x80, Profile: 3}, 3, false, false},
		{"unexpected notify", Header{Version: 1, Flags: FlagIsNotify, Profile: 3}, 3, false, false},
		{"notify", Header{Version: 1, Flags: FlagIsNotify, Profile: 5}, 3, true, true},
		{"notify missing bit", Header{Version: 1, Profile: 3}, 3, true, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.valid, tc.h.ValidResponse(tc.profile, tc.expectNotify))
		})
	}
}
