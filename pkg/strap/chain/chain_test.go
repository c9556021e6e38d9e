package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainCursor(t *testing.T) {
	testCases := []struct {
		name  string
		spans [][]byte
		want  []byte
	}{
		{"empty", nil, nil},
		{"single", [][]byte{{1, 2, 3}}, []byte{1, 2, 3}},
		{"multi", [][]byte{{1}, {2, 3}, {4, 5, 6}}, []byte{1, 2, 3, 4, 5, 6}},
		{"skips empty", [][]byte{{}, {1}, {}, {2}}, []byte{1, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.spans...)
			require.Equal(t, len(tc.want), c.Len())
			cur := c.Cursor()
			var got []byte
			for {
				b, ok := cur.Next()
				if !ok {
					break
				}
				got = append(got, b)
			}
			require.Equal(t, tc.want, got)
			if len(tc.want) > 0 {
				require.Equal(t, tc.want, c.Bytes())
			}
		})
	}
}

func TestChainExtend(t *testing.T) {
	payload := New([]byte{3, 4}, []byte{5})
	c := New([]byte{1, 2}).Extend(payload).Append([]byte{6})
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, c.Bytes())
	// the source chain is untouched
	require.Equal(t, []byte{3, 4, 5}, payload.Bytes())
}

func TestChainWriter(t *testing.T) {
	buf1, buf2 := make([]byte, 2), make([]byte, 2)
	c := New(buf1, buf2)
	w := c.Writer()
	for i := byte(0); i < 4; i++ {
		require.True(t, w.Put(i+1))
	}
	require.False(t, w.Put(9), "capacity exhausted")
	require.Equal(t, []byte{1, 2}, buf1)
	require.Equal(t, []byte{3, 4}, buf2)
}

func TestNilChain(t *testing.T) {
	var c *Chain
	require.Zero(t, c.Len())
	require.Nil(t, c.Bytes())
	cur := c.Cursor()
	_, ok := cur.Next()
	require.False(t, ok)
	w := c.Writer()
	require.False(t, w.Put(1))
}
