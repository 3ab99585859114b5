package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePeerAddress(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort uint16
	}{
		{"example.org", "example.org", 9333},
		{"example.org:1234", "example.org", 1234},
		{"[::1]", "::1", 9333},
		{"[::1]:1234", "::1", 1234},
		{"203.0.113.5:80", "203.0.113.5", 80},
	}
	for _, tc := range tests {
		a, err := ParsePeerAddress(tc.in, 9333)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.wantHost, a.Host(), tc.in)
		require.Equal(t, tc.wantPort, a.Port(), tc.in)
	}
}

func TestParsePeerAddressRejectsEmptyHost(t *testing.T) {
	_, err := ParsePeerAddress("", 9333)
	require.Error(t, err)
	_, err = ParsePeerAddress(":1234", 9333)
	require.Error(t, err)
}

func TestPeerAddressEqualIsUnresolvedForm(t *testing.T) {
	a, _ := ParsePeerAddress("example.org:9333", 9333)
	b, _ := ParsePeerAddress("example.org", 9333)
	require.True(t, a.Equal(b))

	c := NewPeerAddress("127.0.0.1", 9333)
	require.False(t, a.Equal(c), "a hostname and its resolved IP are not equal")
}

func TestPeerAddressIsLocal(t *testing.T) {
	require.True(t, NewPeerAddress("127.0.0.1", 1).IsLocal())
	require.True(t, NewPeerAddress("localhost", 1).IsLocal())
	require.False(t, NewPeerAddress("203.0.113.5", 1).IsLocal())
}
