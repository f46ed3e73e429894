package bridge

import (
	"strings"
	"testing"

	"mcbridged/internal/netif"
	"mcbridged/internal/resolve"
)

func testGroups() []resolve.ResolvedGroup {
	return []resolve.ResolvedGroup{
		{
			Binding: resolve.ServiceBinding{Name: "hf-status.local", Port: 5006},
			Address: resolve.DeriveAddress("hf-status.local"),
			Source:  resolve.SourceHashFallback,
		},
		{
			Binding: resolve.ServiceBinding{Name: "pcm.local", Port: 5004},
			Address: resolve.DeriveAddress("pcm.local"),
			Source:  resolve.SourceHashFallback,
		},
	}
}

func TestBuildRuleSetShape(t *testing.T) {
	pair := netif.InterfacePair{Inner: "br-deadbeef0123", Outer: "eth0"}
	rs := BuildRuleSet(pair, testGroups())

	if len(rs.Forwards) != 4 {
		t.Fatalf("expected 4 forward rules, got %d", len(rs.Forwards))
	}
	if len(rs.Joins) != 4 {
		t.Fatalf("expected 4 join records, got %d", len(rs.Joins))
	}

	// Each group must be forwarded in both directions.
	directions := make(map[string]bool)
	for _, f := range rs.Forwards {
		directions[f.FromIface+">"+f.ToIface] = true
	}
	if !directions["br-deadbeef0123>eth0"] || !directions["eth0>br-deadbeef0123"] {
		t.Fatalf("missing direction in %v", directions)
	}
}

func TestBuildRuleSetDeterministicOrder(t *testing.T) {
	pair := netif.InterfacePair{Inner: "br0", Outer: "eth0"}
	first := BuildRuleSet(pair, testGroups()).Render()
	second := BuildRuleSet(pair, testGroups()).Render()
	if first != second {
		t.Fatal("rule set rendering must be deterministic")
	}
}

func TestRenderSMCRouteFormat(t *testing.T) {
	pair := netif.InterfacePair{Inner: "br0", Outer: "eth0"}
	text := BuildRuleSet(pair, testGroups()).Render()

	if !strings.Contains(text, "mgroup from br0 group 239.185.143.241") {
		t.Fatalf("missing inner join:\n%s", text)
	}
	if !strings.Contains(text, "mroute from br0 group 239.69.232.124 to eth0") {
		t.Fatalf("missing inner-to-outer mroute:\n%s", text)
	}
	if !strings.Contains(text, "mroute from eth0 group 239.185.143.241 to br0") {
		t.Fatalf("missing outer-to-inner mroute:\n%s", text)
	}
}
