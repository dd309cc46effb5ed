// Package server composes the registry daemon: REST surface, real-time
// channel, token store, and idle action scheduler.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agentfloor/agentfloor/internal/config"
	"github.com/agentfloor/agentfloor/internal/daemon/idle"
	"github.com/agentfloor/agentfloor/internal/daemon/registry"
	"github.com/agentfloor/agentfloor/internal/daemon/token"
	"github.com/agentfloor/agentfloor/internal/daemon/ws"
)

// Server is the registry daemon.
type Server struct {
	cfg      *config.Store
	registry *registry.Registry
	tokens   *token.Store
	hub      *ws.Hub
	idle     *idle.Scheduler

	httpSrv *http.Server
	wsSrv   *http.Server
	httpLis net.Listener
	wsLis   net.Listener
}

// New creates a Server from the loaded configuration, binding both
// listeners. Port 0 in the config means dynamic allocation (tests).
func New(cfg *config.Store) (*Server, error) {
	ports := cfg.Ports()

	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", ports.HTTPPort))
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	wsLis, err := net.Listen("tcp", fmt.Sprintf(":%d", ports.WSPort))
	if err != nil {
		httpLis.Close()
		return nil, fmt.Errorf("ws listen: %w", err)
	}

	reg := registry.New()
	tokens := token.NewStore(cfg.TokenExpiry())
	hub := ws.NewHub(reg, tokens, cfg.InactivityTimeout)
	scheduler := idle.NewScheduler(reg)

	srv := &Server{
		cfg:      cfg,
		registry: reg,
		tokens:   tokens,
		hub:      hub,
		idle:     scheduler,
		httpLis:  httpLis,
		wsLis:    wsLis,
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", hub.Handler())

	srv.httpSrv = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.wsSrv = &http.Server{Handler: wsMux}

	tokens.StartSweeper()
	return srv, nil
}

// HTTPPort returns the bound REST port.
func (s *Server) HTTPPort() int {
	return s.httpLis.Addr().(*net.TCPAddr).Port
}

// WSPort returns the bound real-time channel port.
func (s *Server) WSPort() int {
	return s.wsLis.Addr().(*net.TCPAddr).Port
}

// Registry exposes the agent registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Tokens exposes the token store.
func (s *Server) Tokens() *token.Store {
	return s.tokens
}

// Serve runs both listeners. Blocks until Stop is called.
func (s *Server) Serve() error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.httpSrv.Serve(s.httpLis) }()
	go func() { errCh <- s.wsSrv.Serve(s.wsLis) }()

	err := <-errCh
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the daemon down: viewer sockets closed with a normal closure,
// timers stopped, listeners drained.
func (s *Server) Stop() {
	s.idle.Stop()
	s.hub.Stop()
	s.tokens.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
	_ = s.wsSrv.Shutdown(ctx)
}
