package netif

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func TestValidateNetworkName(t *testing.T) {
	for _, good := range []string{"radiolan", "radio-net", "rcc_net", "net1"} {
		if err := ValidateNetworkName(good); err != nil {
			t.Errorf("ValidateNetworkName(%q) = %v", good, err)
		}
	}
	for _, bad := range []string{"", "-leading", "has space", "semi;colon", "UPPER"} {
		if err := ValidateNetworkName(bad); err == nil {
			t.Errorf("ValidateNetworkName(%q) should fail", bad)
		}
	}
}

func TestNetworkIDParsesPodmanJSON(t *testing.T) {
	inv := &PodmanInventory{
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`[{"name": "radiolan", "id": "deadbeef0123456789"}]`), nil
		},
	}
	id, err := inv.NetworkID(context.Background(), "radiolan")
	if err != nil {
		t.Fatalf("NetworkID failed: %v", err)
	}
	if id != "deadbeef0123456789" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestNetworkIDParsesDockerCompatJSON(t *testing.T) {
	inv := &PodmanInventory{
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`[{"Name": "radiolan", "Id": "0123456789abcdef"}]`), nil
		},
	}
	id, err := inv.NetworkID(context.Background(), "radiolan")
	if err != nil {
		t.Fatalf("NetworkID failed: %v", err)
	}
	if id != "0123456789abcdef" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestNetworkIDBinaryMissing(t *testing.T) {
	inv := &PodmanInventory{
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, exec.ErrNotFound
		},
	}
	_, err := inv.NetworkID(context.Background(), "radiolan")
	if !errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}
}

func TestNetworkIDRejectsInvalidName(t *testing.T) {
	inv := NewPodmanInventory()
	inv.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("command should not run for invalid name")
		return nil, nil
	}
	if _, err := inv.NetworkID(context.Background(), "bad name; rm -rf"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNetworkIDEmptyInspectOutput(t *testing.T) {
	inv := &PodmanInventory{
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`[]`), nil
		},
	}
	if _, err := inv.NetworkID(context.Background(), "radiolan"); err == nil {
		t.Fatal("expected not-found error for empty inspect output")
	}
}
