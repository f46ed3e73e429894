package netif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ErrInventoryUnavailable means the container inventory itself cannot be
// queried (binary missing, service down). Callers fall back to scanning.
var ErrInventoryUnavailable = errors.New("container network inventory unavailable")

// Network names: lowercase letters, numbers, hyphens, underscores.
var networkNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// PodmanInventory queries container networks through the podman CLI.
type PodmanInventory struct {
	// Binary defaults to "podman".
	Binary string

	// runCommand is overridable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewPodmanInventory creates an inventory backed by the podman CLI.
func NewPodmanInventory() *PodmanInventory {
	return &PodmanInventory{Binary: "podman", runCommand: runExec}
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ValidateNetworkName rejects names that could smuggle CLI arguments.
func ValidateNetworkName(name string) error {
	if name == "" {
		return fmt.Errorf("network name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("network name too long (max 128 chars)")
	}
	if !networkNamePattern.MatchString(name) {
		return fmt.Errorf("network name contains invalid characters: %s", name)
	}
	return nil
}

// NetworkID returns the identifier of the named container network.
func (p *PodmanInventory) NetworkID(ctx context.Context, name string) (string, error) {
	if err := ValidateNetworkName(name); err != nil {
		return "", err
	}

	binary := p.Binary
	if binary == "" {
		binary = "podman"
	}
	run := p.runCommand
	if run == nil {
		run = runExec
	}

	output, err := run(ctx, binary, "network", "inspect", name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A nonzero exit with inspect means the network does not exist;
			// anything else (socket errors and the like) counts as unavailable.
			stderr := strings.ToLower(string(exitErr.Stderr))
			if strings.Contains(stderr, "not found") || strings.Contains(stderr, "no such network") {
				return "", fmt.Errorf("network %s not found", name)
			}
		}
		return "", fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}

	return parseNetworkID(output, name)
}

// parseNetworkID extracts the network identifier from podman's inspect JSON.
// Podman emits "id" while older docker-compatible output uses "Id".
func parseNetworkID(output []byte, name string) (string, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(output, &entries); err != nil {
		return "", fmt.Errorf("parsing network inspect output for %s: %w", name, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("network %s not found", name)
	}
	for _, key := range []string{"id", "Id", "ID"} {
		raw, ok := entries[0][key]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("network %s has no identifier in inspect output", name)
}

func isInventoryUnavailable(err error) bool {
	return errors.Is(err, ErrInventoryUnavailable)
}
