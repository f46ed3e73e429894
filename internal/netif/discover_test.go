package netif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func withFakeInterfaces(t *testing.T, interfaces []net.Interface) {
	t.Helper()
	orig := listNetworkInterfaces
	listNetworkInterfaces = func() ([]net.Interface, error) { return interfaces, nil }
	t.Cleanup(func() { listNetworkInterfaces = orig })
}

func withFakeRouteTable(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "route")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	orig := routeTablePath
	routeTablePath = path
	t.Cleanup(func() { routeTablePath = orig })
}

const routeTableWithDefault = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	00000000	0102A8C0	0003	0	0	100	00000000	0	0	0
eth0	0002A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

const routeTableNoDefault = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	0002A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

func TestDiscoverOuterExplicit(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "eth1", Flags: net.FlagUp | net.FlagMulticast},
	})

	name, err := DiscoverOuter("eth1")
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if name != "eth1" {
		t.Fatalf("expected eth1, got %s", name)
	}
}

func TestDiscoverOuterExplicitMissing(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast},
	})

	_, err := DiscoverOuter("wlan0")
	var notFound *InterfaceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected InterfaceNotFoundError, got %v", err)
	}
	if len(notFound.Available) != 2 {
		t.Fatalf("expected 2 available interfaces listed, got %v", notFound.Available)
	}
}

func TestDiscoverOuterExplicitNotMulticast(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "tun0", Flags: net.FlagUp},
	})

	_, err := DiscoverOuter("tun0")
	var notFound *InterfaceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected InterfaceNotFoundError, got %v", err)
	}
}

func TestDiscoverOuterAutoDefaultRoute(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast},
	})
	withFakeRouteTable(t, routeTableWithDefault)

	name, err := DiscoverOuter("auto")
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if name != "eth0" {
		t.Fatalf("expected eth0 from default route, got %s", name)
	}
}

func TestDiscoverOuterAutoFallsBackToNonLoopback(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "enp3s0", Flags: net.FlagUp | net.FlagMulticast},
	})
	withFakeRouteTable(t, routeTableNoDefault)

	name, err := DiscoverOuter("auto")
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if name != "enp3s0" {
		t.Fatalf("expected enp3s0 fallback, got %s", name)
	}
}

func TestDiscoverOuterAutoNothingUsable(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
	})
	withFakeRouteTable(t, routeTableNoDefault)

	_, err := DiscoverOuter("auto")
	var notFound *InterfaceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected InterfaceNotFoundError, got %v", err)
	}
}

type fakeInventory struct {
	networks map[string]string
	down     bool
}

func (f *fakeInventory) NetworkID(ctx context.Context, name string) (string, error) {
	if f.down {
		return "", fmt.Errorf("%w: no socket", ErrInventoryUnavailable)
	}
	id, ok := f.networks[name]
	if !ok {
		return "", fmt.Errorf("network %s not found", name)
	}
	return id, nil
}

func TestDiscoverInnerFromInventory(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "br-deadbeef0123", Flags: net.FlagUp | net.FlagMulticast},
	})

	inv := &fakeInventory{networks: map[string]string{
		"radiolan": "deadbeef0123456789abcdef",
	}}
	name := DiscoverInner(context.Background(), inv, "radiolan")
	if name != "br-deadbeef0123" {
		t.Fatalf("expected br-deadbeef0123, got %s", name)
	}
}

func TestDiscoverInnerTriesAliases(t *testing.T) {
	withFakeInterfaces(t, nil)

	inv := &fakeInventory{networks: map[string]string{
		"rcc-net": "0123456789abcdef00112233",
	}}
	name := DiscoverInner(context.Background(), inv, "mynet")
	if name != "br-0123456789ab" {
		t.Fatalf("expected alias-derived bridge, got %s", name)
	}
}

func TestDiscoverInnerScansBridgesWhenInventoryDown(t *testing.T) {
	bridgeDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(bridgeDir, "br-00deadbeef00", "bridge"), 0o755); err != nil {
		t.Fatal(err)
	}
	origSys := bridgeSysPath
	bridgeSysPath = func(name string) string {
		return filepath.Join(bridgeDir, name, "bridge")
	}
	t.Cleanup(func() { bridgeSysPath = origSys })

	withFakeInterfaces(t, []net.Interface{
		{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast},
		{Name: "br-00deadbeef00", Flags: net.FlagUp | net.FlagMulticast},
	})

	name := DiscoverInner(context.Background(), &fakeInventory{down: true}, "radiolan")
	if name != "br-00deadbeef00" {
		t.Fatalf("expected scanned bridge, got %s", name)
	}
}

func TestDiscoverInnerDefaultFallback(t *testing.T) {
	withFakeInterfaces(t, []net.Interface{
		{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast},
	})

	name := DiscoverInner(context.Background(), &fakeInventory{down: true}, "radiolan")
	if name != DefaultBridge {
		t.Fatalf("expected %s, got %s", DefaultBridge, name)
	}
}

func TestBridgeFromNetworkID(t *testing.T) {
	bridge, ok := bridgeFromNetworkID("ABCDEF0123456789")
	if !ok || bridge != "br-abcdef012345" {
		t.Fatalf("unexpected result %q %v", bridge, ok)
	}
	if _, ok := bridgeFromNetworkID("short"); ok {
		t.Fatal("short identifier should be rejected")
	}
	if _, ok := bridgeFromNetworkID("zzzzzzzzzzzzzzzz"); ok {
		t.Fatal("non-hex identifier should be rejected")
	}
}
