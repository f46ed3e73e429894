package publish

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"

	"mcbridged/internal/resolve"
)

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MDNSPublisher advertises a name-to-address binding itself via multicast DNS
// announcements on a single interface. Records carry a 120s TTL and are
// refreshed well inside that window.
type MDNSPublisher struct {
	iface string
	group resolve.ResolvedGroup

	announceEvery time.Duration

	mu     sync.Mutex
	conn   *net.UDPConn
	stopCh chan struct{}
	doneCh chan struct{}

	// socketFactory is overridable for tests.
	socketFactory func(iface string) (*net.UDPConn, error)
}

// NewMDNSPublisher creates a publisher announcing on the named interface.
func NewMDNSPublisher(iface string, group resolve.ResolvedGroup) *MDNSPublisher {
	return &MDNSPublisher{
		iface:         iface,
		group:         group,
		announceEvery: 60 * time.Second,
		socketFactory: createAnnounceSocket,
	}
}

func (p *MDNSPublisher) Name() string { return p.group.Binding.Name }

// Start opens the announcement socket and begins the announce loop. The
// initial announcement is sent before Start returns so liveness implies the
// binding has been advertised at least once.
func (p *MDNSPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		select {
		case <-p.doneCh:
		default:
			return nil
		}
	}

	conn, err := p.socketFactory(p.iface)
	if err != nil {
		return fmt.Errorf("mdns publisher for %s: %w", p.group.Binding.Name, err)
	}

	p.conn = conn
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.sendAnnouncement()
	go p.announcer(p.stopCh, p.doneCh)

	log.Printf("INFO: Publishing %s -> %s via mDNS on %s", p.group.Binding.Name, p.group.Address, p.iface)
	return nil
}

// Alive reports whether the announce loop is running.
func (p *MDNSPublisher) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doneCh == nil {
		return false
	}
	select {
	case <-p.doneCh:
		return false
	default:
		return true
	}
}

// Stop ends announcements and closes the socket.
func (p *MDNSPublisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	stopCh, doneCh, conn := p.stopCh, p.doneCh, p.conn
	p.stopCh = nil
	p.conn = nil
	p.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	if conn != nil {
		conn.Close()
	}
	<-doneCh
	log.Printf("INFO: Stopped publishing %s", p.group.Binding.Name)
	return nil
}

func (p *MDNSPublisher) announcer(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// Re-announce quickly at startup, then settle into the steady interval.
	for _, delay := range []time.Duration{time.Second, 2 * time.Second} {
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
			p.sendAnnouncement()
		}
	}

	ticker := time.NewTicker(p.announceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.sendAnnouncement()
		}
	}
}

func (p *MDNSPublisher) sendAnnouncement() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	msg := &dns.Msg{}
	msg.Response = true
	msg.Authoritative = true
	msg.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(p.group.Binding.Name),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET | 1<<15, // cache-flush bit
			Ttl:    120,
		},
		A: p.group.Address,
	}}

	packed, err := msg.Pack()
	if err != nil {
		log.Printf("WARN: Packing announcement for %s: %v", p.group.Binding.Name, err)
		return
	}
	if _, err := conn.WriteToUDP(packed, mdnsGroup); err != nil {
		log.Printf("WARN: Announcing %s: %v", p.group.Binding.Name, err)
	}
}

// createAnnounceSocket binds a UDP socket to the mDNS port with SO_REUSEADDR
// so it coexists with a host mDNS daemon, then joins the mDNS group on the
// given interface.
func createAnnounceSocket(ifaceName string) (*net.UDPConn, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}

	addr := &syscall.SockaddrInet4{Port: 5353}
	copy(addr.Addr[:], net.IPv4zero.To4())
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("binding to :5353: %w", err)
	}

	file := os.NewFile(uintptr(fd), "mdns-publish")
	defer file.Close()

	fileConn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("wrapping socket: %w", err)
	}
	conn, ok := fileConn.(*net.UDPConn)
	if !ok {
		fileConn.Close()
		return nil, fmt.Errorf("unexpected connection type %T", fileConn)
	}

	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("interface %s: %w", ifaceName, err)
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: mdnsGroup.IP}); err != nil {
			log.Printf("WARN: Joining mDNS group on %s: %v", ifaceName, err)
		}
		if err := pc.SetMulticastInterface(iface); err != nil {
			log.Printf("WARN: Setting multicast interface %s: %v", ifaceName, err)
		}
	}

	return conn, nil
}
