// Package netplumb prepares the host so VPN clients can reach configured
// local networks (or the internet) through this host, and undoes that
// preparation on teardown. It is diff-free: every call recomputes the full
// NAT rule set from the current server record rather than tracking state,
// so repeated installs never duplicate rules and a crashed run's rules are
// cleared by the next clean Clear call.
package netplumb

import (
	"bufio"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"

	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/metrics"
)

var ipRegexp = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// ErrNoDefaultRoute is returned when the host's routing table has no
// 0.0.0.0 destination.
var ErrNoDefaultRoute = fmt.Errorf("netplumb: no default route found")

// Rule is one computed NAT POSTROUTING MASQUERADE rule, expressed as the
// argument vector iptables expects after "-t nat {-C|-A|-D} POSTROUTING".
type Rule []string

// Plumber computes and applies the NAT rules for a server record's virtual
// subnet and local networks against the host's live routing table.
type Plumber struct {
	// VirtualNetwork is the VPN's virtual subnet in CIDR form (the source
	// address for the MASQUERADE rules).
	VirtualNetwork string
	// LocalNetworks are the target CIDRs to route to clients. Empty means
	// the single wildcard 0.0.0.0/0 (default-gateway push).
	LocalNetworks []string

	// runner executes host commands; overridable in tests.
	runner commandRunner
}

type commandRunner interface {
	Run(name string, args ...string) (output string, err error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return string(out), err
}

// New creates a Plumber for the given virtual network and local networks.
func New(virtualNetwork string, localNetworks []string) *Plumber {
	return &Plumber{
		VirtualNetwork: virtualNetwork,
		LocalNetworks:  localNetworks,
		runner:         execRunner{},
	}
}

// EnableForwarding sets the kernel ip_forward knob. Failure is fatal to a
// server start.
func (p *Plumber) EnableForwarding() error {
	out, err := p.runner.Run("sysctl", "-w", "net.ipv4.ip_forward=1")
	if err != nil {
		return fmt.Errorf("netplumb: enable ip forwarding: %w (output: %s)", err, out)
	}
	return nil
}

// ComputeRules inspects the host's IPv4 routing table and returns the NAT
// rule set for the current VirtualNetwork/LocalNetworks.
func (p *Plumber) ComputeRules() ([]Rule, error) {
	routes, err := p.routingTable()
	if err != nil {
		return nil, err
	}

	defaultIface, ok := routes["0.0.0.0"]
	if !ok {
		log.WithComponent("netplumb").Error().Msg("no default route found")
		return nil, ErrNoDefaultRoute
	}

	targets := p.LocalNetworks
	if len(targets) == 0 {
		targets = []string{"0.0.0.0/0"}
	}

	rules := make([]Rule, 0, len(targets))
	for _, target := range targets {
		addr, _, err := parseNetwork(target)
		if err != nil {
			return nil, fmt.Errorf("netplumb: parse local network %q: %w", target, err)
		}

		iface, ok := routes[addr]
		if !ok {
			iface = defaultIface
		}

		var rule Rule
		if addr != "0.0.0.0" {
			rule = append(rule, "-d", target)
		}
		rule = append(rule, "-s", p.VirtualNetwork, "-o", iface, "-j", "MASQUERADE")
		rules = append(rules, rule)
	}

	return rules, nil
}

// routingTable runs "route -n" and returns a map from destination address
// to the owning interface, mirroring the original's column parsing: column
// 0 is the destination, column 7 is the interface, and only IPv4-dotted
// rows are kept.
func (p *Plumber) routingTable() (map[string]string, error) {
	out, err := p.runner.Run("route", "-n")
	if err != nil {
		return nil, fmt.Errorf("netplumb: read routing table: %w", err)
	}

	routes := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || !ipRegexp.MatchString(fields[0]) {
			continue
		}
		routes[fields[0]] = fields[7]
	}
	return routes, nil
}

// Exists probes each computed rule with a read-only check and reports true
// iff all are present.
func (p *Plumber) Exists() (bool, error) {
	rules, err := p.ComputeRules()
	if err != nil {
		return false, err
	}
	for _, rule := range rules {
		present, err := p.probe(rule)
		if err != nil {
			// A check failure is interpreted as "rule not present".
			return false, nil
		}
		if !present {
			return false, nil
		}
	}
	return true, nil
}

// Install appends every computed rule not already present. If any append
// fails the error surfaces; prior appends are left in place (no automatic
// rollback — a subsequent Clear removes them).
func (p *Plumber) Install() error {
	rules, err := p.ComputeRules()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		present, perr := p.probe(rule)
		if perr == nil && present {
			continue
		}
		if _, err := p.iptables(append([]string{"-t", "nat", "-A", "POSTROUTING"}, rule...)...); err != nil {
			metrics.NATInstallFailuresTotal.Inc()
			return fmt.Errorf("netplumb: install rule %v: %w", rule, err)
		}
	}
	return nil
}

// Clear deletes every computed rule currently present.
func (p *Plumber) Clear() error {
	rules, err := p.ComputeRules()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		present, perr := p.probe(rule)
		if perr != nil || !present {
			continue
		}
		if _, err := p.iptables(append([]string{"-t", "nat", "-D", "POSTROUTING"}, rule...)...); err != nil {
			return fmt.Errorf("netplumb: clear rule %v: %w", rule, err)
		}
	}
	return nil
}

func (p *Plumber) probe(rule Rule) (bool, error) {
	_, err := p.iptables(append([]string{"-t", "nat", "-C", "POSTROUTING"}, rule...)...)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plumber) iptables(args ...string) (string, error) {
	return p.runner.Run("iptables", args...)
}

// parseNetwork splits a CIDR into its address and prefix length, validating
// it via net.ParseCIDR.
func parseNetwork(cidr string) (address string, prefix int, err error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", 0, err
	}
	ones, _ := ipnet.Mask.Size()
	return ip.String(), ones, nil
}
