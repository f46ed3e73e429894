package publish

import (
	"context"

	"mcbridged/internal/proc"
	"mcbridged/internal/resolve"
)

// ExecPublisher delegates advertising to an external helper process, e.g.
// avahi-publish-address, one per binding. The helper holds the advertisement
// for as long as it runs, so liveness equals process liveness.
type ExecPublisher struct {
	group   resolve.ResolvedGroup
	process *proc.Process
}

// NewExecPublisher creates a publisher running `command <name> <address>`.
func NewExecPublisher(command string, group resolve.ResolvedGroup) *ExecPublisher {
	argv := []string{command, group.Binding.Name, group.Address.String()}
	return &ExecPublisher{
		group:   group,
		process: proc.New(proc.RolePublisher, "publish-"+group.Binding.Name, argv),
	}
}

func (p *ExecPublisher) Name() string { return p.group.Binding.Name }

func (p *ExecPublisher) Start(ctx context.Context) error {
	return p.process.Start(ctx)
}

func (p *ExecPublisher) Alive() bool {
	return p.process.Alive()
}

func (p *ExecPublisher) Stop(ctx context.Context) error {
	return p.process.Stop(ctx)
}

// Pid exposes the helper's process ID for the status snapshot.
func (p *ExecPublisher) Pid() int {
	return p.process.Pid()
}
