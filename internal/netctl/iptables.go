package netctl

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"mcbridged/internal/bridge"
)

// IPTables installs the TTL-increment mangle rule through the iptables CLI.
// The rule sits in PREROUTING so the increment happens before the routing
// decision and single-hop-TTL packets survive forwarding.
type IPTables struct {
	// Binary defaults to "iptables".
	Binary string

	// runCommand is overridable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewIPTables creates a packet-filter client using the real iptables binary.
func NewIPTables() *IPTables {
	return &IPTables{
		Binary: "iptables",
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func ttlRuleArgs(op string, rule bridge.TTLRule) []string {
	return []string{
		"-t", "mangle", op, "PREROUTING",
		"-i", rule.Iface,
		"-d", bridge.ScopedPrefix,
		"-j", "TTL", "--ttl-inc", strconv.Itoa(rule.Increment),
	}
}

// AddTTL appends the TTL-increment rule for the ingress interface.
func (t *IPTables) AddTTL(ctx context.Context, rule bridge.TTLRule) error {
	output, err := t.run(ctx, ttlRuleArgs("-A", rule)...)
	if err != nil {
		return fmt.Errorf("iptables add TTL rule on %s: %v (%s)", rule.Iface, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// RemoveTTL deletes the rule; a rule that was never installed is success.
func (t *IPTables) RemoveTTL(ctx context.Context, rule bridge.TTLRule) error {
	output, err := t.run(ctx, ttlRuleArgs("-D", rule)...)
	if err == nil {
		return nil
	}
	if isRuleMissing(string(output)) {
		return nil
	}
	return fmt.Errorf("iptables remove TTL rule on %s: %v (%s)", rule.Iface, err, strings.TrimSpace(string(output)))
}

// isRuleMissing matches the iptables diagnostics for deleting an absent rule.
func isRuleMissing(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "does a matching rule exist") ||
		strings.Contains(lower, "no chain/target/match by that name") ||
		strings.Contains(lower, "rule does not exist")
}

func (t *IPTables) run(ctx context.Context, args ...string) ([]byte, error) {
	binary := t.Binary
	if binary == "" {
		binary = "iptables"
	}
	run := t.runCommand
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	return run(ctx, binary, args...)
}
