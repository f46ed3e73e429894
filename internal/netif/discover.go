// Package netif discovers the two network interfaces being bridged: the
// container-side bridge (inner) and the host-facing interface (outer).
package netif

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Test seams, overridable like the interface listing hooks elsewhere in this codebase.
var (
	listNetworkInterfaces = net.Interfaces
	routeTablePath        = "/proc/net/route"
	bridgeSysPath         = func(name string) string {
		return "/sys/class/net/" + name + "/bridge"
	}
)

// DefaultBridge is the final inner-interface fallback when neither the
// container inventory nor a bridge scan produces a candidate.
const DefaultBridge = "podman0"

var derivedBridgePattern = regexp.MustCompile(`^br-[0-9a-f]{12}$`)

// InterfacePair names the two attachment points being bridged.
type InterfacePair struct {
	Inner string
	Outer string
}

func (p InterfacePair) String() string {
	return fmt.Sprintf("inner=%s outer=%s", p.Inner, p.Outer)
}

// InterfaceNotFoundError reports a missing or unsuitable interface together
// with what the host actually has.
type InterfaceNotFoundError struct {
	Name      string
	Reason    string
	Available []string
}

func (e *InterfaceNotFoundError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no usable interface found (%s); available: %s",
			e.Reason, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("interface %s %s; available: %s",
		e.Name, e.Reason, strings.Join(e.Available, ", "))
}

// DiscoverOuter determines the host-facing interface. An explicit name (other
// than "auto") must exist and be multicast-capable. With "auto" the IPv4
// default route's egress interface wins, then the first non-loopback interface.
func DiscoverOuter(explicit string) (string, error) {
	interfaces, err := listNetworkInterfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}

	if explicit != "" && explicit != "auto" {
		for _, iface := range interfaces {
			if iface.Name != explicit {
				continue
			}
			if iface.Flags&net.FlagMulticast == 0 {
				return "", &InterfaceNotFoundError{
					Name:      explicit,
					Reason:    "is not multicast-capable",
					Available: interfaceNames(interfaces),
				}
			}
			return explicit, nil
		}
		return "", &InterfaceNotFoundError{
			Name:      explicit,
			Reason:    "does not exist",
			Available: interfaceNames(interfaces),
		}
	}

	if name, err := defaultRouteInterface(); err == nil && name != "" {
		log.Printf("INFO: Outer interface %s selected from IPv4 default route", name)
		return name, nil
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		log.Printf("INFO: No default route; outer interface falls back to %s", iface.Name)
		return iface.Name, nil
	}

	return "", &InterfaceNotFoundError{
		Reason:    "no default route and no non-loopback interface",
		Available: interfaceNames(interfaces),
	}
}

// Inventory answers container-network-name to network-identifier queries.
// ErrInventoryUnavailable from NetworkID means the inventory itself cannot be
// reached, which is a normal fallback trigger rather than an error.
type Inventory interface {
	NetworkID(ctx context.Context, name string) (string, error)
}

// networkAliases are tried after the configured network name.
var networkAliases = []string{"radiolan", "radio-net", "rcc-net"}

/// DiscoverInner determines the container-side bridge. It never fails: the
// returned name may not exist yet, and later multicast enablement logs (but
// tolerates) its absence, since the bridge can appear once the container
// network is created.
func DiscoverInner(ctx context.Context, inv Inventory, network string) string {
	names := candidateNetworks(network)

	if inv != nil {
		inventoryUp := true
		for _, name := range names {
			id, err := inv.NetworkID(ctx, name)
			if err != nil {
				if isInventoryUnavailable(err) {
					inventoryUp = false
					break
				}
				continue
			}
			bridge, ok := bridgeFromNetworkID(id)
			if !ok {
				log.Printf("WARN: Network %s has unusable identifier %q", name, id)
				continue
			}
			if !interfaceExists(bridge) {
				log.Printf("WARN: Derived bridge %s for network %s not present yet", bridge, name)
			}
			log.Printf("INFO: Inner interface %s derived from container network %s", bridge, name)
			return bridge
		}
		if inventoryUp {
			log.Printf("WARN: No container network found among %s", strings.Join(names, ", "))
		} else {
			log.Printf("WARN: Container network inventory unavailable, scanning bridges")
		}
	}

	if bridge, ok := scanDerivedBridges(); ok {
		log.Printf("INFO: Inner interface %s found by bridge scan", bridge)
		return bridge
	}

	log.Printf("INFO: Inner interface falls back to default bridge %s", DefaultBridge)
	return DefaultBridge
}

func candidateNetworks(network string) []string {
	names := make([]string, 0, len(networkAliases)+1)
	if network != "" {
		names = append(names, network)
	}
	for _, alias := range networkAliases {
		if alias != network {
			names = append(names, alias)
		}
	}
	return names
}

// bridgeFromNetworkID derives the kernel bridge name from a container network
// identifier: "br-" plus the first 12 hex characters.
func bridgeFromNetworkID(id string) (string, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) < 12 {
		return "", false
	}
	prefix := id[:12]
	for _, c := range prefix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return "br-" + prefix, true
}

// scanDerivedBridges looks for local bridge interfaces matching the derived
// naming convention.
func scanDerivedBridges() (string, bool) {
	interfaces, err := listNetworkInterfaces()
	if err != nil {
		return "", false
	}
	var candidates []string
	for _, iface := range interfaces {
		if !derivedBridgePattern.MatchString(iface.Name) {
			continue
		}
		if _, err := os.Stat(bridgeSysPath(iface.Name)); err != nil {
			continue
		}
		candidates = append(candidates, iface.Name)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

// defaultRouteInterface parses the kernel IPv4 routing table for the egress
// interface of the 0.0.0.0/0 route.
func defaultRouteInterface() (string, error) {
	f, err := os.Open(routeTablePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Skip the header line.
	if !scanner.Scan() {
		return "", fmt.Errorf("empty routing table")
	}
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		dest, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil || dest != 0 {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&0x1 == 0 { // RTF_UP
			continue
		}
		return fields[0], nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no IPv4 default route")
}

func interfaceExists(name string) bool {
	interfaces, err := listNetworkInterfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Name == name {
			return true
		}
	}
	return false
}

func interfaceNames(interfaces []net.Interface) []string {
	names := make([]string, 0, len(interfaces))
	for _, iface := range interfaces {
		names = append(names, iface.Name)
	}
	return names
}
