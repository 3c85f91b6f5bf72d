package ovpnconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	cases := []struct {
		cidr    string
		address string
		netmask string
	}{
		{"10.8.0.0/24", "10.8.0.0", "255.255.255.0"},
		{"10.8.0.0/16", "10.8.0.0", "255.255.0.0"},
		{"10.8.0.0/23", "10.8.0.0", "255.255.254.0"},
		{"10.8.0.0/0", "10.8.0.0", "0.0.0.0"},
		{"10.8.0.0/32", "10.8.0.0", "255.255.255.255"},
	}
	for _, c := range cases {
		address, netmask, err := ParseNetwork(c.cidr)
		require.NoError(t, err, "ParseNetwork(%q)", c.cidr)
		assert.Equal(t, c.address, address, "address for %q", c.cidr)
		assert.Equal(t, c.netmask, netmask, "netmask for %q", c.cidr)
	}
}

func TestParseNetworkInvalid(t *testing.T) {
	for _, cidr := range []string{"10.8.0.0", "10.8.0.0/33", "10.8.0.0/-1", "bad"} {
		_, _, err := ParseNetwork(cidr)
		assert.Error(t, err, "ParseNetwork(%q)", cidr)
	}
}

func TestPushDirectiveEmpty(t *testing.T) {
	got, err := PushDirective(nil)
	require.NoError(t, err)
	assert.Equal(t, `push "redirect-gateway"`, got)
}

func TestPushDirectiveWithNetworks(t *testing.T) {
	got, err := PushDirective([]string{"192.168.1.0/24", "192.168.2.0/24"})
	require.NoError(t, err)
	want := "push \"route 192.168.1.0 255.255.255.0\"\n" +
		"push \"route 192.168.2.0 255.255.255.0\""
	assert.Equal(t, want, got)
}

func TestPushDirectivePropagatesParseError(t *testing.T) {
	_, err := PushDirective([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestVerbosity(t *testing.T) {
	verb, mute := Verbosity(false)
	assert.Equal(t, 1, verb)
	assert.Equal(t, 3, mute)

	verb, mute = Verbosity(true)
	assert.Equal(t, 4, verb)
	assert.Equal(t, 8, mute)
}
