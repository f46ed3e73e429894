package publish

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"mcbridged/internal/resolve"
)

func statusGroup() resolve.ResolvedGroup {
	return resolve.ResolvedGroup{
		Binding: resolve.ServiceBinding{Name: "hf-status.local", Port: 5006},
		Address: resolve.DeriveAddress("hf-status.local"),
		Source:  resolve.SourceHashFallback,
	}
}

// redirectAnnouncements points the announcement destination at a local
// listener and returns it.
func redirectAnnouncements(t *testing.T) *net.UDPConn {
	t.Helper()
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	orig := mdnsGroup
	mdnsGroup = listener.LocalAddr().(*net.UDPAddr)
	t.Cleanup(func() {
		mdnsGroup = orig
		listener.Close()
	})
	return listener
}

func localSocketFactory(iface string) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
}

func TestMDNSPublisherAnnouncesBinding(t *testing.T) {
	listener := redirectAnnouncements(t)

	p := NewMDNSPublisher("", statusGroup())
	p.socketFactory = localSocketFactory

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop(context.Background())

	if !p.Alive() {
		t.Fatal("publisher should be alive after start")
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buffer := make([]byte, 1500)
	n, _, err := listener.ReadFromUDP(buffer)
	if err != nil {
		t.Fatalf("no announcement received: %v", err)
	}

	var msg dns.Msg
	if err := msg.Unpack(buffer[:n]); err != nil {
		t.Fatalf("bad announcement packet: %v", err)
	}
	if !msg.Response || !msg.Authoritative {
		t.Fatal("announcement must be an authoritative response")
	}
	if len(msg.Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(msg.Answer))
	}
	a, ok := msg.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("expected A record, got %T", msg.Answer[0])
	}
	if a.Hdr.Name != "hf-status.local." {
		t.Fatalf("unexpected name %q", a.Hdr.Name)
	}
	if a.A.String() != "239.185.143.241" {
		t.Fatalf("unexpected address %s", a.A)
	}
}

func TestMDNSPublisherStopAndRestart(t *testing.T) {
	redirectAnnouncements(t)

	p := NewMDNSPublisher("", statusGroup())
	p.socketFactory = localSocketFactory

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if p.Alive() {
		t.Fatal("publisher should be dead after stop")
	}

	// A restart re-announces the same binding.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer p.Stop(context.Background())
	if !p.Alive() {
		t.Fatal("publisher should be alive after restart")
	}
}

func TestMDNSPublisherStopIdempotent(t *testing.T) {
	p := NewMDNSPublisher("", statusGroup())
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stopping a never-started publisher must be a no-op: %v", err)
	}
}

func TestExecPublisherLifecycle(t *testing.T) {
	// `env NAME ADDR` exits immediately; good enough to exercise liveness.
	p := NewExecPublisher("env", statusGroup())
	if p.Name() != "hf-status.local" {
		t.Fatalf("unexpected name %q", p.Name())
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("helper still alive after expected exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestForGroupSelectsMode(t *testing.T) {
	if _, ok := ForGroup("exec", "avahi-publish-address", "eth0", statusGroup()).(*ExecPublisher); !ok {
		t.Fatal("exec mode should build an ExecPublisher")
	}
	if _, ok := ForGroup("mdns", "", "eth0", statusGroup()).(*MDNSPublisher); !ok {
		t.Fatal("mdns mode should build an MDNSPublisher")
	}
}
