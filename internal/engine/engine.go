// Package engine is the supervision core: it runs the setup sequence once,
// then keeps the forwarding daemon and name publishers alive, reacting to
// termination signals and the external restart-request marker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sys/unix"

	"mcbridged/internal/bridge"
	"mcbridged/internal/config"
	"mcbridged/internal/events"
	"mcbridged/internal/health"
	"mcbridged/internal/netctl"
	"mcbridged/internal/netif"
	"mcbridged/internal/proc"
	"mcbridged/internal/publish"
	"mcbridged/internal/resolve"
	"mcbridged/internal/status"
)

// Process exit codes. The outer supervision layer (container runtime or
// systemd restart policy) relaunches the engine on ExitRestart.
const (
	ExitClean          = 0
	ExitRestart        = 1
	ExitStartupFailure = 2
)

// State is the supervisor's lifecycle phase.
type State int

const (
	StateStarting State = iota
	StateActive
	StateDegraded
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// escalateAfter is the consecutive-restart count at which WARN logs become ERROR.
const escalateAfter = 3

// Options configures an engine run.
type Options struct {
	ConfigPath string

	// MarkerPath is the restart-request marker location.
	MarkerPath string

	// RuleFile is where the forwarding daemon reads its rule set.
	RuleFile string

	ConfigWait       time.Duration
	LivenessInterval time.Duration
	MarkerPoll       time.Duration
}

func (o *Options) applyDefaults() {
	if o.MarkerPath == "" {
		o.MarkerPath = "/run/mcbridged/restart-requested"
	}
	if o.RuleFile == "" {
		o.RuleFile = "/etc/smcroute.conf"
	}
	if o.ConfigWait <= 0 {
		o.ConfigWait = config.DefaultWait
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = 10 * time.Second
	}
	if o.MarkerPoll <= 0 {
		o.MarkerPoll = 250 * time.Millisecond
	}
}

// forwarderHandle is the supervised forwarding-daemon process.
type forwarderHandle interface {
	Start(ctx context.Context) error
	Alive() bool
	Stop(ctx context.Context) error
	Pid() int
}

// Engine owns all mutable supervision state. The watcher and liveness loops
// never touch it directly: they publish events, and the Run goroutine reacts.
type Engine struct {
	opts    Options
	bus     *events.Bus
	tracker *health.Tracker

	// Capability clients; tests swap these for fakes.
	inventory    netif.Inventory
	netCtl       bridge.NetControl
	filter       bridge.PacketFilter
	fwdClient    bridge.Forwarder
	forwarderCmd []string
	directory    resolve.Directory

	newForwarder  func(argv []string) forwarderHandle
	newPublisher  func(mode, command, iface string, group resolve.ResolvedGroup) publish.Publisher
	notify        func(state string)
	discoverOuter func(explicit string) (string, error)
	discoverInner func(ctx context.Context, inv netif.Inventory, network string) string

	mu           sync.RWMutex
	state        State
	cfg          *config.Config
	pair         netif.InterfacePair
	groups       []resolve.ResolvedGroup
	ttl          bridge.TTLRule
	rules        bridge.RuleSet
	forwarder    forwarderHandle
	publishers   []publish.Publisher
	statusSrv    *status.Server
	innerMissing bool
}

// New creates an engine wired to the real host: podman inventory, ioctl
// network control, iptables, an smcroute-style forwarder, and mDNS directory
// lookups.
func New(opts Options) *Engine {
	opts.applyDefaults()
	smc := bridge.NewSMCRoute(opts.RuleFile)
	return &Engine{
		opts:         opts,
		bus:          events.NewBus(),
		tracker:      health.NewTracker(),
		inventory:    netif.NewPodmanInventory(),
		netCtl:       netctl.NewController(),
		filter:       netctl.NewIPTables(),
		fwdClient:    smc,
		forwarderCmd: smc.DaemonCommand(),
		directory:    resolve.NewMDNSDirectory(""),
		newForwarder: func(argv []string) forwarderHandle {
			return proc.New(proc.RoleForwarder, "smcrouted", argv)
		},
		newPublisher:  publish.ForGroup,
		notify:        sdNotify,
		discoverOuter: netif.DiscoverOuter,
		discoverInner: netif.DiscoverInner,
	}
}

func sdNotify(state string) {
	if sent, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("WARN: systemd notification failed: %v", err)
	} else if sent {
		log.Printf("INFO: Notified systemd: %s", state)
	}
}

// Run executes the engine until a signal or restart request ends it, and
// returns the process exit code.
func (e *Engine) Run(ctx context.Context) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigCh)

	e.setState(StateStarting)

	startErr := make(chan error, 1)
	go func() { startErr <- e.start(runCtx) }()

	select {
	case sig := <-sigCh:
		// A signal mid-startup still tears down whatever was applied.
		log.Printf("INFO: Received %v during startup, shutting down", sig)
		cancel()
		<-startErr
		e.shutdown(false)
		return ExitClean
	case err := <-startErr:
		if err != nil {
			if errors.Is(err, context.Canceled) {
				e.shutdown(false)
				return ExitClean
			}
			log.Printf("FATAL: Startup failed: %v", err)
			e.shutdown(false)
			return ExitStartupFailure
		}
	}

	e.setState(StateActive)
	e.notify(daemon.SdNotifyReady)
	log.Printf("INFO: Engine active")

	restartCh := e.bus.Subscribe(events.TopicRestartRequested, 1)
	go e.watchMarker(runCtx)

	ticker := time.NewTicker(e.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Printf("INFO: Received %v, shutting down", sig)
			e.shutdown(false)
			return ExitClean
		case <-restartCh:
			log.Printf("INFO: Restart requested via marker, shutting down for relaunch")
			e.shutdown(true)
			return ExitRestart
		case <-ticker.C:
			e.checkLiveness(runCtx)
		case <-ctx.Done():
			e.shutdown(false)
			return ExitClean
		}
	}
}

// start runs the one-shot setup sequence: config, resolution, discovery,
// bridge apply, publishers, status endpoint.
func (e *Engine) start(ctx context.Context) error {
	cfg, err := config.Load(e.opts.ConfigPath, e.opts.ConfigWait)
	if err != nil {
		return err
	}

	statusBinding, err := resolve.ParseBinding(cfg.Bindings.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrMalformed, err)
	}
	dataBinding, err := resolve.ParseBinding(cfg.Bindings.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrMalformed, err)
	}

	outer, err := e.discoverOuter(cfg.Relay.HostInterface)
	if err != nil {
		return err
	}
	inner := cfg.Bindings.Interface
	if inner == "" {
		inner = e.discoverInner(ctx, e.inventory, cfg.Relay.ContainerNetwork)
	}
	pair := netif.InterfacePair{Inner: inner, Outer: outer}
	log.Printf("INFO: Bridging %s", pair)

	if err := ctx.Err(); err != nil {
		return err
	}

	resolver := resolve.NewResolver(e.directory)
	groups := []resolve.ResolvedGroup{
		resolver.Resolve(ctx, statusBinding, cfg.Relay.AttemptDirectoryLookup),
		resolver.Resolve(ctx, dataBinding, cfg.Relay.AttemptDirectoryLookup),
	}
	for _, g := range groups {
		log.Printf("INFO: Resolved %s", g)
	}

	ttl := bridge.TTLRule{Iface: pair.Inner, Increment: cfg.Relay.TTLIncrement}

	e.mu.Lock()
	e.cfg = cfg
	e.pair = pair
	e.groups = groups
	e.ttl = ttl
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if cfg.RelayEnabled() {
		forwarder := e.newForwarder(e.forwarderCmd)
		if err := forwarder.Start(ctx); err != nil {
			return fmt.Errorf("%w: %v", bridge.ErrForwarderStart, err)
		}
		e.mu.Lock()
		e.forwarder = forwarder
		e.mu.Unlock()

		rules, err := e.configurator().Apply(ctx, pair, groups, ttl)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.rules = rules
		e.mu.Unlock()
		e.bus.Publish(events.Event{Topic: events.TopicRulesApplied, Payload: events.RulesApplied{
			Joins:    len(rules.Joins),
			Forwards: len(rules.Forwards),
		}})
		e.tracker.Setf("forwarder", health.LevelOK, "running (pid %d)", forwarder.Pid())
	} else {
		log.Printf("INFO: Relay disabled by configuration; skipping bridge setup")
	}

	var publishers []publish.Publisher
	for _, g := range groups {
		pub := e.newPublisher(cfg.Publisher.Mode, cfg.Publisher.Command, outer, g)
		if err := pub.Start(ctx); err != nil {
			// Not fatal: the liveness loop keeps retrying dead publishers.
			log.Printf("WARN: Publisher for %s failed to start: %v", g.Binding.Name, err)
			e.tracker.Setf(trackName(pub), health.LevelWarn, "failed to start: %v", err)
		} else {
			e.tracker.Setf(trackName(pub), health.LevelOK, "advertising %s", g.Address)
		}
		publishers = append(publishers, pub)
	}

	srv := status.New(cfg.StatusListen, e, e.tracker)
	if err := srv.Start(); err != nil {
		log.Printf("WARN: Status endpoint unavailable: %v", err)
		srv = nil
	}

	e.mu.Lock()
	e.publishers = publishers
	e.statusSrv = srv
	e.mu.Unlock()
	return nil
}

// shutdown tears down in reverse order of setup. Safe on partially-applied
// state: every step tolerates the corresponding resource never having existed.
func (e *Engine) shutdown(markerTriggered bool) {
	e.setState(StateShuttingDown)
	e.notify(daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.mu.Lock()
	cfg := e.cfg
	ttl := e.ttl
	forwarder := e.forwarder
	publishers := e.publishers
	srv := e.statusSrv
	e.forwarder = nil
	e.publishers = nil
	e.statusSrv = nil
	e.mu.Unlock()

	if srv != nil {
		if err := srv.Stop(ctx); err != nil {
			log.Printf("WARN: Stopping status endpoint: %v", err)
		}
	}

	for _, pub := range publishers {
		if err := pub.Stop(ctx); err != nil {
			log.Printf("WARN: Stopping publisher %s: %v", pub.Name(), err)
		}
	}

	if cfg != nil && cfg.RelayEnabled() && ttl.Iface != "" {
		e.configurator().Teardown(ctx, ttl)
	}

	if forwarder != nil {
		if err := forwarder.Stop(ctx); err != nil {
			log.Printf("WARN: Stopping forwarding daemon: %v", err)
		}
	}

	// Clear the marker so a stale file cannot restart the next run.
	if err := os.Remove(e.opts.MarkerPath); err == nil {
		log.Printf("INFO: Cleared restart marker %s", e.opts.MarkerPath)
	} else if !os.IsNotExist(err) {
		log.Printf("WARN: Could not clear restart marker: %v", err)
	}

	if markerTriggered {
		log.Printf("INFO: Shutdown complete, exiting for relaunch")
	} else {
		log.Printf("INFO: Shutdown complete")
	}
	e.bus.Close()
}

func (e *Engine) configurator() *bridge.Configurator {
	return bridge.NewConfigurator(e.netCtl, e.filter, e.fwdClient)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func trackName(pub publish.Publisher) string {
	return "publish-" + pub.Name()
}
