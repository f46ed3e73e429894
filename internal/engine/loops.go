package engine

import (
	"context"
	"log"
	"os"
	"time"

	"mcbridged/internal/events"
	"mcbridged/internal/health"
	"mcbridged/internal/status"
)

// watchMarker polls for the restart-request marker at sub-second interval,
// independent of the liveness loop so a slow health check never delays a
// restart. It publishes a single event and exits; marker removal happens
// during shutdown.
func (e *Engine) watchMarker(ctx context.Context) {
	ticker := time.NewTicker(e.opts.MarkerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(e.opts.MarkerPath); err != nil {
				continue
			}
			log.Printf("INFO: Restart marker %s detected", e.opts.MarkerPath)
			e.bus.Publish(events.Event{Topic: events.TopicRestartRequested, Payload: events.RestartRequested{
				MarkerPath: e.opts.MarkerPath,
				DetectedAt: time.Now(),
			}})
			return
		}
	}
}

// checkLiveness runs one supervisory cycle: revalidate the inner interface,
// restart the forwarding daemon with the last-applied rule set if it died,
// and restart any dead publisher in isolation.
func (e *Engine) checkLiveness(ctx context.Context) {
	e.mu.RLock()
	cfg := e.cfg
	pair := e.pair
	groups := e.groups
	ttl := e.ttl
	forwarder := e.forwarder
	publishers := e.publishers
	e.mu.RUnlock()

	if cfg == nil {
		return
	}

	// The inner bridge may appear after startup; keep re-enabling multicast
	// until it does, logging only on state changes.
	if err := e.netCtl.EnableMulticast(pair.Inner); err != nil {
		if !e.innerMissing {
			log.Printf("WARN: Inner interface %s not usable yet: %v", pair.Inner, err)
			e.innerMissing = true
		}
	} else if e.innerMissing {
		log.Printf("INFO: Inner interface %s is back", pair.Inner)
		e.innerMissing = false
	}

	if cfg.RelayEnabled() && forwarder != nil && !forwarder.Alive() {
		e.setState(StateDegraded)
		e.bus.Publish(events.Event{Topic: events.TopicProcessDied, Payload: events.ProcessDied{
			Role: "forwarder", Name: "smcrouted",
		}})

		restarts := e.tracker.BumpRestarts("forwarder")
		logRestart(restarts, "Forwarding daemon died, restarting (attempt %d)", restarts)

		if err := forwarder.Start(ctx); err != nil {
			e.tracker.Setf("forwarder", levelFor(restarts), "restart failed: %v", err)
			log.Printf("WARN: Forwarding daemon restart failed: %v", err)
			return
		}
		// Restart re-applies the last known rule set; a failure here is
		// retried on the next cycle rather than counted against a budget.
		rules, err := e.configurator().Apply(ctx, pair, groups, ttl)
		if err != nil {
			e.tracker.Setf("forwarder", levelFor(restarts), "reapply failed: %v", err)
			log.Printf("WARN: Re-applying rules after forwarder restart: %v", err)
			return
		}
		e.mu.Lock()
		e.rules = rules
		e.mu.Unlock()
		e.tracker.Setf("forwarder", health.LevelOK, "running (pid %d)", forwarder.Pid())
	} else if forwarder != nil {
		e.tracker.ClearRestarts("forwarder")
	}

	for _, pub := range publishers {
		if pub.Alive() {
			e.tracker.ClearRestarts(trackName(pub))
			continue
		}
		e.setState(StateDegraded)
		e.bus.Publish(events.Event{Topic: events.TopicProcessDied, Payload: events.ProcessDied{
			Role: "publisher", Name: pub.Name(),
		}})

		restarts := e.tracker.BumpRestarts(trackName(pub))
		logRestart(restarts, "Publisher %s died, restarting (attempt %d)", pub.Name(), restarts)

		pub.Stop(ctx)
		if err := pub.Start(ctx); err != nil {
			e.tracker.Setf(trackName(pub), levelFor(restarts), "restart failed: %v", err)
			log.Printf("WARN: Publisher %s restart failed: %v", pub.Name(), err)
			continue
		}
		e.tracker.Setf(trackName(pub), health.LevelOK, "re-announced")
	}

	e.mu.Lock()
	if e.state == StateDegraded {
		e.state = StateActive
	}
	e.mu.Unlock()
}

// logRestart escalates from WARN to ERROR once restarts keep failing; the
// behavior stays the same, only the logging level changes.
func logRestart(restarts int, format string, args ...any) {
	if restarts >= escalateAfter {
		log.Printf("ERROR: "+format, args...)
	} else {
		log.Printf("WARN: "+format, args...)
	}
}

func levelFor(restarts int) health.Level {
	if restarts >= escalateAfter {
		return health.LevelError
	}
	return health.LevelWarn
}

// Snapshot implements status.Provider.
func (e *Engine) Snapshot() status.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var processes []status.ProcessInfo
	if e.forwarder != nil {
		processes = append(processes, status.ProcessInfo{
			Role:  "forwarder",
			Name:  "smcrouted",
			Pid:   e.forwarder.Pid(),
			Alive: e.forwarder.Alive(),
		})
	}
	for _, pub := range e.publishers {
		info := status.ProcessInfo{
			Role:  "publisher",
			Name:  pub.Name(),
			Alive: pub.Alive(),
		}
		if withPid, ok := pub.(interface{ Pid() int }); ok {
			info.Pid = withPid.Pid()
		}
		processes = append(processes, info)
	}

	return status.NewSnapshot(e.state.String(), e.pair, e.groups, e.rules, processes)
}
