package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mcbridged/internal/netif"
)

func TestSMCRouteWriteRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smcroute.conf")
	s := NewSMCRoute(path)

	pair := netif.InterfacePair{Inner: "br0", Outer: "eth0"}
	if err := s.WriteRules(BuildRuleSet(pair, testGroups())); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "mroute from br0 group 239.185.143.241 to eth0") {
		t.Fatalf("rule file missing mroute:\n%s", content)
	}

	// Overwrite must fully replace, never append.
	if err := s.WriteRules(BuildRuleSet(pair, testGroups()[:1])); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	content, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "pcm") || strings.Contains(string(content), "239.69.232.124") {
		t.Fatalf("rewrite left stale rules:\n%s", content)
	}
}

func TestSMCRouteReloadAndRunning(t *testing.T) {
	var calls [][]string
	s := NewSMCRoute(filepath.Join(t.TempDir(), "smcroute.conf"))
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return nil, nil
	}

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !s.Running(context.Background()) {
		t.Fatal("expected running")
	}
	if len(calls) != 2 || calls[0][1] != "reload" || calls[1][1] != "show" {
		t.Fatalf("unexpected control calls: %v", calls)
	}
}

func TestSMCRouteNotRunning(t *testing.T) {
	s := NewSMCRoute(filepath.Join(t.TempDir(), "smcroute.conf"))
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	if s.Running(context.Background()) {
		t.Fatal("expected not running when control socket is dead")
	}
}

func TestSMCRouteDaemonCommand(t *testing.T) {
	s := NewSMCRoute("/run/mcbridged/smcroute.conf")
	cmd := s.DaemonCommand()
	if cmd[0] != "smcrouted" || cmd[len(cmd)-1] != "/run/mcbridged/smcroute.conf" {
		t.Fatalf("unexpected daemon command: %v", cmd)
	}
}
