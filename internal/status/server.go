// Package status serves a read-only loopback HTTP view of the engine: current
// interfaces, resolved groups, rule set, and process liveness. Diagnostics for
// operators and tests; errors still go to the log stream.
package status

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"mcbridged/internal/bridge"
	"mcbridged/internal/health"
	"mcbridged/internal/netif"
	"mcbridged/internal/resolve"
)

// ProcessInfo describes one supervised process.
type ProcessInfo struct {
	Role          string    `json:"role"`
	Name          string    `json:"name"`
	Pid           int       `json:"pid,omitempty"`
	Alive         bool      `json:"alive"`
	LastRestartAt time.Time `json:"last_restart_at,omitempty"`
}

// GroupInfo is the JSON shape of a resolved group.
type GroupInfo struct {
	Name    string `json:"name"`
	Port    uint16 `json:"port"`
	Address string `json:"address"`
	Source  string `json:"source"`
}

// Snapshot is the engine state served to clients.
type Snapshot struct {
	State     string        `json:"state"`
	Inner     string        `json:"inner_interface"`
	Outer     string        `json:"outer_interface"`
	Groups    []GroupInfo   `json:"groups"`
	Joins     int           `json:"joins"`
	Forwards  int           `json:"forwards"`
	Processes []ProcessInfo `json:"processes"`
}

// NewSnapshot flattens engine state into the served form.
func NewSnapshot(state string, pair netif.InterfacePair, groups []resolve.ResolvedGroup, rules bridge.RuleSet, processes []ProcessInfo) Snapshot {
	snap := Snapshot{
		State:     state,
		Inner:     pair.Inner,
		Outer:     pair.Outer,
		Joins:     len(rules.Joins),
		Forwards:  len(rules.Forwards),
		Processes: processes,
	}
	for _, g := range groups {
		snap.Groups = append(snap.Groups, GroupInfo{
			Name:    g.Binding.Name,
			Port:    g.Binding.Port,
			Address: g.Address.String(),
			Source:  g.Source.String(),
		})
	}
	return snap
}

// Provider supplies the current snapshot on demand.
type Provider interface {
	Snapshot() Snapshot
}

// Server is the loopback status endpoint.
type Server struct {
	listen   string
	provider Provider
	tracker  *health.Tracker
	srv      *http.Server
}

// New creates a status server. An empty listen address disables it.
func New(listen string, provider Provider, tracker *health.Tracker) *Server {
	return &Server{listen: listen, provider: provider, tracker: tracker}
}

// Start binds the listener and serves in the background. Bind failures are
// returned synchronously.
func (s *Server) Start() error {
	if s.listen == "" {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", func(c *gin.Context) {
		code := http.StatusOK
		if s.tracker.Overall() == health.LevelError {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     s.tracker.Overall().String(),
			"components": s.tracker.Snapshot(),
		})
	})

	r.GET("/api/v1/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.provider.Snapshot())
	})

	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("status listener on %s: %w", s.listen, err)
	}

	s.srv = &http.Server{Handler: r}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("WARN: Status server stopped: %v", err)
		}
	}()

	log.Printf("INFO: Status endpoint listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, empty when disabled or not started.
func (s *Server) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.listen
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
