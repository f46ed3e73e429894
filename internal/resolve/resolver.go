package resolve

import (
	"context"
	"log"
	"net"
	"time"
)

// Directory answers best-effort name-to-address queries. Absence, timeout, or
// an answer outside the administratively-scoped range are all normal misses.
type Directory interface {
	Lookup(ctx context.Context, name string) (net.IP, error)
}

const (
	directoryAttempts = 5
	attemptSpacing    = time.Second
)

// Resolver produces ResolvedGroups, preferring directory answers when asked.
type Resolver struct {
	Directory Directory

	// sleep is overridable in tests to avoid real attempt spacing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver backed by the given directory. A nil
// directory is allowed and behaves as if every lookup misses.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{Directory: dir, sleep: sleepCtx}
}

// Resolve maps a binding to its multicast group. With attemptDirectory set it
// queries the directory up to five times at one-second spacing, accepting the
// first answer inside 239.0.0.0/8; on exhaustion (or when lookups are skipped)
// it falls back to the deterministic derivation, which is total.
func (r *Resolver) Resolve(ctx context.Context, binding ServiceBinding, attemptDirectory bool) ResolvedGroup {
	if attemptDirectory && r.Directory != nil {
		for attempt := 1; attempt <= directoryAttempts; attempt++ {
			addr, err := r.Directory.Lookup(ctx, binding.Name)
			if err == nil && InScopedRange(addr) {
				log.Printf("INFO: Directory resolved %s -> %s (attempt %d)", binding.Name, addr, attempt)
				return ResolvedGroup{Binding: binding, Address: addr.To4(), Source: SourceDirectory}
			}
			if err == nil && addr != nil {
				log.Printf("WARN: Directory answer %s for %s is outside 239.0.0.0/8, treating as miss", addr, binding.Name)
			}
			if attempt < directoryAttempts {
				if err := r.sleep(ctx, attemptSpacing); err != nil {
					break
				}
			}
		}
		log.Printf("INFO: Directory lookup for %s missed %d attempts, deriving address", binding.Name, directoryAttempts)
	}

	derived := DeriveAddress(binding.Name)
	return ResolvedGroup{Binding: binding, Address: derived.To4(), Source: SourceHashFallback}
}

// InScopedRange reports whether ip lies in 239.0.0.0/8.
func InScopedRange(ip net.IP) bool {
	v4 := ip.To4()
	return v4 != nil && v4[0] == 239
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
