package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
)

var mdnsGroupAddr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MDNSDirectory performs one-shot multicast DNS A queries. Each Lookup opens
// an ephemeral socket, sends a single question, and accepts the first A answer
// for the queried name before the per-attempt deadline.
type MDNSDirectory struct {
	// Timeout bounds a single lookup attempt.
	Timeout time.Duration

	// Interface, when set, pins queries to one interface.
	Interface string
}

// NewMDNSDirectory creates a directory client with a one-second attempt timeout.
func NewMDNSDirectory(iface string) *MDNSDirectory {
	return &MDNSDirectory{Timeout: time.Second, Interface: iface}
}

// Lookup queries for an A record of name via multicast DNS.
func (d *MDNSDirectory) Lookup(ctx context.Context, name string) (net.IP, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("mdns socket: %w", err)
	}
	defer conn.Close()

	if d.Interface != "" {
		if iface, ifErr := net.InterfaceByName(d.Interface); ifErr == nil {
			p := ipv4.NewPacketConn(conn)
			if err := p.SetMulticastInterface(iface); err != nil {
				return nil, fmt.Errorf("mdns multicast interface %s: %w", d.Interface, err)
			}
		}
	}

	fqdn := dns.Fqdn(name)
	msg := &dns.Msg{}
	msg.SetQuestion(fqdn, dns.TypeA)
	msg.RecursionDesired = false
	// mDNS one-shot queries use ID 0 per RFC 6762 section 18.1.
	msg.Id = 0

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("mdns pack: %w", err)
	}
	if _, err := conn.WriteToUDP(packed, mdnsGroupAddr); err != nil {
		return nil, fmt.Errorf("mdns send: %w", err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	buffer := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			return nil, fmt.Errorf("mdns lookup %s: %w", name, err)
		}

		var reply dns.Msg
		if err := reply.Unpack(buffer[:n]); err != nil || !reply.Response {
			continue
		}
		for _, rr := range reply.Answer {
			a, ok := rr.(*dns.A)
			if !ok || !strings.EqualFold(a.Hdr.Name, fqdn) {
				continue
			}
			return a.A, nil
		}
	}
}
