// Package bridge turns a discovered interface pair and resolved groups into a
// bidirectional forwarding rule set and applies it to the host.
package bridge

import (
	"fmt"
	"net"
	"strings"

	"mcbridged/internal/netif"
	"mcbridged/internal/resolve"
)

// ScopedPrefix is the administratively-scoped multicast range the relay handles.
const ScopedPrefix = "239.0.0.0/8"

// Join asks the forwarding daemon to receive a group on an interface.
type Join struct {
	Iface string
	Group net.IP
}

// Forward replicates a group's packets from one interface to another.
type Forward struct {
	FromIface string
	Group     net.IP
	ToIface   string
}

// TTLRule increments the TTL of scoped multicast packets entering an
// interface, before routing, so single-hop-TTL packets survive forwarding.
type TTLRule struct {
	Iface     string
	Increment int
}

// RuleSet is the complete declarative state handed to the forwarding daemon.
// It is regenerated from scratch on every apply, never patched incrementally,
// so post-restart state is always consistent with current inputs.
type RuleSet struct {
	Joins    []Join
	Forwards []Forward
}

// BuildRuleSet generates joins for every (interface, group) pair and the
// bidirectional forward entries: for each group, inner to outer and outer to
// inner.
func BuildRuleSet(pair netif.InterfacePair, groups []resolve.ResolvedGroup) RuleSet {
	var rs RuleSet
	for _, g := range groups {
		rs.Joins = append(rs.Joins,
			Join{Iface: pair.Inner, Group: g.Address},
			Join{Iface: pair.Outer, Group: g.Address},
		)
		rs.Forwards = append(rs.Forwards,
			Forward{FromIface: pair.Inner, Group: g.Address, ToIface: pair.Outer},
			Forward{FromIface: pair.Outer, Group: g.Address, ToIface: pair.Inner},
		)
	}
	return rs
}

// Render produces the smcroute-compatible configuration text for the rule set.
func (rs RuleSet) Render() string {
	var b strings.Builder
	b.WriteString("# Generated by mcbridged. Do not edit: the full rule set is\n")
	b.WriteString("# rewritten on every reconfiguration.\n")
	for _, j := range rs.Joins {
		fmt.Fprintf(&b, "mgroup from %s group %s\n", j.Iface, j.Group)
	}
	for _, f := range rs.Forwards {
		fmt.Fprintf(&b, "mroute from %s group %s to %s\n", f.FromIface, f.Group, f.ToIface)
	}
	return b.String()
}

func (rs RuleSet) String() string {
	return fmt.Sprintf("%d joins, %d forwards", len(rs.Joins), len(rs.Forwards))
}
