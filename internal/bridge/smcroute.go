package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// SMCRoute drives an smcroute-compatible forwarding daemon: rules are written
// to its configuration file and picked up via `smcroutectl reload`.
type SMCRoute struct {
	// ConfigPath is where the rendered rule set is written.
	ConfigPath string

	// Binary is the control client, default "smcroutectl".
	Binary string

	// runCommand is overridable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSMCRoute creates a forwarder client writing to configPath.
func NewSMCRoute(configPath string) *SMCRoute {
	return &SMCRoute{
		ConfigPath: configPath,
		Binary:     "smcroutectl",
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// DaemonCommand returns the argv the supervisor uses to spawn the forwarding
// daemon in the foreground against our configuration file.
func (s *SMCRoute) DaemonCommand() []string {
	return []string{"smcrouted", "-n", "-f", s.ConfigPath}
}

// WriteRules atomically replaces the configuration file with the rendered
// rule set.
func (s *SMCRoute) WriteRules(rs RuleSet) error {
	dir := filepath.Dir(s.ConfigPath)
	tmp, err := os.CreateTemp(dir, ".smcroute-*.conf")
	if err != nil {
		return fmt.Errorf("creating rule file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(rs.Render()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing rule file: %w", err)
	}
	if err := os.Rename(tmpName, s.ConfigPath); err != nil {
		return fmt.Errorf("installing rule file: %w", err)
	}
	return nil
}

// Reload asks the running daemon to re-read its configuration.
func (s *SMCRoute) Reload(ctx context.Context) error {
	if output, err := s.run(ctx, "reload"); err != nil {
		return fmt.Errorf("smcroutectl reload: %v (%s)", err, string(output))
	}
	return nil
}

// Running reports whether the daemon answers on its control socket.
func (s *SMCRoute) Running(ctx context.Context) bool {
	_, err := s.run(ctx, "show")
	return err == nil
}

func (s *SMCRoute) run(ctx context.Context, args ...string) ([]byte, error) {
	binary := s.Binary
	if binary == "" {
		binary = "smcroutectl"
	}
	run := s.runCommand
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	return run(ctx, binary, args...)
}
