package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mcbridged/internal/netif"
	"mcbridged/internal/resolve"
)

// ErrForwarderStart indicates the forwarding daemon could not be verified as
// running after a reload.
var ErrForwarderStart = errors.New("forwarding daemon failed to start")

// NetControl enables multicast reception on host interfaces.
type NetControl interface {
	EnableMulticast(iface string) error
}

// PacketFilter installs and removes the TTL-rewrite rule.
type PacketFilter interface {
	AddTTL(ctx context.Context, rule TTLRule) error
	// RemoveTTL must treat a missing rule as success.
	RemoveTTL(ctx context.Context, rule TTLRule) error
}

// Forwarder is the declarative configuration surface of the external
// forwarding daemon. Process lifecycle belongs to the supervisor, not here.
type Forwarder interface {
	WriteRules(rs RuleSet) error
	Reload(ctx context.Context) error
	Running(ctx context.Context) bool
}

// Configurator applies and tears down the bridge state idempotently.
type Configurator struct {
	Net       NetControl
	Filter    PacketFilter
	Forwarder Forwarder

	// VerifyTimeout bounds the post-reload liveness check.
	VerifyTimeout time.Duration
	// VerifyInterval is the polling step within VerifyTimeout.
	VerifyInterval time.Duration
}

// NewConfigurator wires a configurator over the three host-control clients.
func NewConfigurator(netCtl NetControl, filter PacketFilter, fwd Forwarder) *Configurator {
	return &Configurator{
		Net:            netCtl,
		Filter:         filter,
		Forwarder:      fwd,
		VerifyTimeout:  5 * time.Second,
		VerifyInterval: 250 * time.Millisecond,
	}
}

// Apply brings the host to the desired forwarding state. Missing interfaces
// are warnings, not failures: the next supervisory reconciliation retries
// them. The rule set is fully regenerated, and the TTL rule is removed before
// being re-added so repeated applies never accumulate duplicates.
func (c *Configurator) Apply(ctx context.Context, pair netif.InterfacePair, groups []resolve.ResolvedGroup, ttl TTLRule) (RuleSet, error) {
	for _, iface := range []string{pair.Inner, pair.Outer} {
		if err := c.Net.EnableMulticast(iface); err != nil {
			log.Printf("WARN: Could not enable multicast on %s: %v", iface, err)
		}
	}

	if err := c.Filter.RemoveTTL(ctx, ttl); err != nil {
		log.Printf("WARN: Removing previous TTL rule on %s: %v", ttl.Iface, err)
	}
	if err := c.Filter.AddTTL(ctx, ttl); err != nil {
		log.Printf("WARN: Installing TTL rule on %s: %v", ttl.Iface, err)
	}

	rs := BuildRuleSet(pair, groups)
	if err := c.Forwarder.WriteRules(rs); err != nil {
		return rs, fmt.Errorf("writing forwarding rules: %w", err)
	}
	if err := c.Forwarder.Reload(ctx); err != nil {
		return rs, fmt.Errorf("reloading forwarding daemon: %w", err)
	}
	if err := c.verifyRunning(ctx); err != nil {
		return rs, err
	}

	log.Printf("INFO: Bridge configured (%s) between %s", rs, pair)
	return rs, nil
}

// Teardown removes the TTL rule. Both steps are best-effort so it is safe on
// partially-applied state and on repeated invocation; stopping the forwarding
// daemon itself is the supervisor's job since it owns the process handle.
func (c *Configurator) Teardown(ctx context.Context, ttl TTLRule) {
	if err := c.Filter.RemoveTTL(ctx, ttl); err != nil {
		log.Printf("WARN: Teardown could not remove TTL rule on %s: %v", ttl.Iface, err)
	}
}

func (c *Configurator) verifyRunning(ctx context.Context) error {
	timeout := c.VerifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := c.VerifyInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		if c.Forwarder.Running(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not running after %s", ErrForwarderStart, timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrForwarderStart, ctx.Err())
		case <-time.After(interval):
		}
	}
}
