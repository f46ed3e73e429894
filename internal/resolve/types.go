// Package resolve maps symbolic service names to administratively-scoped
// multicast group addresses, either through a best-effort directory lookup or
// through a deterministic hash derivation shared with the partner radio daemon.
package resolve

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Source records how a group address was obtained.
type Source int

const (
	// SourceDirectory means an acceptable directory answer was observed.
	SourceDirectory Source = iota
	// SourceHashFallback means the address was derived from the service name.
	SourceHashFallback
)

func (s Source) String() string {
	switch s {
	case SourceDirectory:
		return "directory"
	case SourceHashFallback:
		return "hash-fallback"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ServiceBinding is one advertised service channel: a DNS-style name plus the
// UDP port its traffic uses. Immutable once parsed.
type ServiceBinding struct {
	Name string
	Port uint16
}

func (b ServiceBinding) String() string {
	return net.JoinHostPort(b.Name, strconv.Itoa(int(b.Port)))
}

// ParseBinding parses a "name:port" string into a ServiceBinding.
func ParseBinding(s string) (ServiceBinding, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return ServiceBinding{}, fmt.Errorf("invalid binding %q: %w", s, err)
	}
	if host == "" {
		return ServiceBinding{}, fmt.Errorf("invalid binding %q: empty name", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return ServiceBinding{}, fmt.Errorf("invalid binding %q: bad port %q", s, portStr)
	}
	return ServiceBinding{Name: host, Port: uint16(port)}, nil
}

// ResolvedGroup ties a service binding to its multicast group address.
type ResolvedGroup struct {
	Binding ServiceBinding
	Address net.IP
	Source  Source
}

func (g ResolvedGroup) String() string {
	return fmt.Sprintf("%s -> %s (%s)", g.Binding.Name, g.Address, g.Source)
}
