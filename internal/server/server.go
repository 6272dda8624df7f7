// Package server ties the pieces together: the TCP accept loop, the
// per-connection line loop, and the per-membership delivery watchers. All
// cross-goroutine coordination goes through the store; there are no shared
// in-process locks between sessions.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"ircdb/internal/metrics"
	"ircdb/internal/protocol"
	"ircdb/internal/store"
)

// Options configures a Server.
type Options struct {
	// Addr is the TCP listen address, e.g. ":6667".
	Addr string
	// ServerName prefixes numeric replies.
	ServerName string
	// Operators are the OPER credentials.
	Operators []protocol.Operator
	// PollPeriod is the delivery watcher period; zero means the default.
	PollPeriod time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Server is the IRC listener.
type Server struct {
	opts     Options
	store    *store.Store
	proc     *protocol.Processor
	log      *slog.Logger
	metrics  *metrics.Metrics
	listener net.Listener
	quit     chan struct{}
}

// New builds a Server and its command processor.
func New(st *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServerName == "" {
		opts.ServerName = "localhost"
	}

	watchers := NewWatchers(st, opts.Logger, opts.Metrics, opts.PollPeriod)
	proc := protocol.NewProcessor(st, opts.ServerName, opts.Operators, watchers, opts.Logger, opts.Metrics)

	return &Server{
		opts:    opts,
		store:   st,
		proc:    proc,
		log:     opts.Logger,
		metrics: opts.Metrics,
		quit:    make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = listener
	s.log.Info("listening", "addr", listener.Addr().String())

	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address; useful with ":0" in tests.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener. Live connections wind down on their own as
// clients disappear or quit.
func (s *Server) Stop() error {
	close(s.quit)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Error("accept failed", "err", err)
				continue
			}
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()
	newConn(nc, s.proc, s.log).handle()
}
