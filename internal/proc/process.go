// Package proc manages the external helper processes the engine supervises:
// the forwarding daemon and exec-mode name publishers.
package proc

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Role classifies a supervised process.
type Role string

const (
	RoleForwarder Role = "forwarder"
	RolePublisher Role = "publisher"
)

// Process is a restartable external command. All handles live with the
// supervisor; nothing else starts or stops these.
type Process struct {
	role Role
	name string
	argv []string

	// stopGrace bounds the SIGTERM-to-SIGKILL window.
	stopGrace time.Duration

	mu            sync.Mutex
	cmd           *exec.Cmd
	done          chan struct{}
	lastRestartAt time.Time
}

// New creates a process definition without starting it.
func New(role Role, name string, argv []string) *Process {
	return &Process{
		role:      role,
		name:      name,
		argv:      argv,
		stopGrace: 3 * time.Second,
	}
}

func (p *Process) Name() string { return p.name }
func (p *Process) Role() Role   { return p.role }

// Pid returns the running process ID, or 0.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// LastRestartAt reports when the process was last (re)started.
func (p *Process) LastRestartAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRestartAt
}

// Start launches the command. Starting an already-alive process is a no-op.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aliveLocked() {
		return nil
	}
	if len(p.argv) == 0 {
		return fmt.Errorf("process %s has no command", p.name)
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s (%s): %w", p.name, p.role, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(done)
		if err != nil {
			log.Printf("WARN: Process %s (%s, pid %d) exited: %v", p.name, p.role, cmd.Process.Pid, err)
		}
	}()

	p.cmd = cmd
	p.done = done
	p.lastRestartAt = time.Now()
	log.Printf("INFO: Started %s (%s, pid %d)", p.name, p.role, cmd.Process.Pid)
	return nil
}

// Alive reports whether the process is currently running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveLocked()
}

func (p *Process) aliveLocked() bool {
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop terminates the process with SIGTERM, escalating to SIGKILL after the
// grace period. Stopping a dead or never-started process is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		// Already gone between the aliveness check and the signal.
		return nil
	}

	grace := p.stopGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("killing %s (pid %d): %w", p.name, cmd.Process.Pid, err)
	}
	<-done
	return nil
}
