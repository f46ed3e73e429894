// Package publish keeps the binding between a service name and its multicast
// group address advertised on the host network. Two targets exist: a built-in
// multicast DNS announcer and an external helper command; the deployment picks
// one through configuration.
package publish

import (
	"context"

	"mcbridged/internal/resolve"
)

// Publisher advertises one name-to-address binding until stopped. Liveness is
// observable so the supervisor can restart a dead publisher.
type Publisher interface {
	Name() string
	Start(ctx context.Context) error
	Alive() bool
	Stop(ctx context.Context) error
}

// ForGroup builds a publisher for the resolved group according to mode.
func ForGroup(mode, command, iface string, group resolve.ResolvedGroup) Publisher {
	if mode == "exec" {
		return NewExecPublisher(command, group)
	}
	return NewMDNSPublisher(iface, group)
}
