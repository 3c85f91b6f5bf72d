package ovpnconf

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNetwork renders a CIDR "a.b.c.d/N" as (address, netmask), where the
// netmask has ⌊N/8⌋ full 255 octets, one octet whose value is the unsigned
// integer formed by N mod 8 leading ones padded to eight bits, and the
// remainder padded with 0 octets to four octets total. Per spec.md §4.B.
func ParseNetwork(cidr string) (address, netmask string, err error) {
	parts := strings.SplitN(cidr, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("ovpnconf: invalid network %q", cidr)
	}
	address = parts[0]

	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 || n > 32 {
		return "", "", fmt.Errorf("ovpnconf: invalid prefix length in %q", cidr)
	}

	fullOctets := n / 8
	remainderBits := n % 8

	octets := make([]string, 0, 4)
	for i := 0; i < fullOctets; i++ {
		octets = append(octets, "255")
	}
	if len(octets) < 4 {
		// The octet formed by remainderBits leading ones, padded to 8 bits.
		bits := strings.Repeat("1", remainderBits)
		for len(bits) < 8 {
			bits += "0"
		}
		val, _ := strconv.ParseUint(bits, 2, 8)
		octets = append(octets, strconv.FormatUint(val, 10))
	}
	for len(octets) < 4 {
		octets = append(octets, "0")
	}

	netmask = strings.Join(octets, ".")
	return address, netmask, nil
}

// PushDirective renders the push directive block for the given local
// networks: one "push \"route ADDR MASK\"" line per network when non-empty,
// or a single "push \"redirect-gateway\"" line when empty. Per spec.md
// §4.B "Push directive rule".
func PushDirective(localNetworks []string) (string, error) {
	if len(localNetworks) == 0 {
		return `push "redirect-gateway"`, nil
	}

	lines := make([]string, 0, len(localNetworks))
	for _, network := range localNetworks {
		address, netmask, err := ParseNetwork(network)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf(`push "route %s %s"`, address, netmask))
	}
	return strings.Join(lines, "\n"), nil
}

// Verbosity returns the daemon's verb/mute levels for the given debug flag:
// verb 4 & mute 8 in debug mode, else verb 1 & mute 3.
func Verbosity(debug bool) (verb, mute int) {
	if debug {
		return 4, 8
	}
	return 1, 3
}
