// Package server owns the TCP listener, one read-loop goroutine per
// connection, and the liveness sweep that reclaims silent connections. All
// store and journal access is serialized behind a single mutex; heartbeat
// stamps live on the connections as atomics so HEARTBEAT never touches it.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/protocol"
)

// conn is one accepted connection. The id is what user records point at
// while a session is bound to the connection.
type conn struct {
	id int64
	pc *protocol.Conn
	// lastHeartbeat is unix milliseconds, stamped on accept and on
	// HEARTBEAT, read by the sweep.
	lastHeartbeat atomic.Int64
}

func (c *conn) touch() {
	c.lastHeartbeat.Store(time.Now().UnixMilli())
}

type Server struct {
	listenAddr  string
	metricsAddr string

	// mu guards the store and the journal. Every handler mutation is O(1)
	// or a scan of a small slice, so one coarse lock is enough.
	mu    sync.Mutex
	store *store.Store
	j     *journal.Journal

	connMu  sync.Mutex
	conns   map[int64]*conn
	connIDs atomic.Int64

	metrics    *metrics.Metrics
	metricsSrv *http.Server

	readTimeout time.Duration
	deadAfter   time.Duration
	sweepEvery  time.Duration

	ctx          context.Context
	cancel       context.CancelFunc
	listener     net.Listener
	shutdownOnce sync.Once
	startedAt    time.Time
}

// New opens the journal, replays it into a fresh store, and returns a server
// ready to Listen. The journal stays open for the server's life.
func New(ctx context.Context, cfg *config.ServerConfig) (*Server, error) {
	j, err := journal.Open(cmp.Or(cfg.JournalPath, journal.DefaultPath))
	if err != nil {
		return nil, fmt.Errorf("server: open journal: %w", err)
	}

	st := store.New(j)
	st.Recover()

	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		listenAddr:  cmp.Or(cfg.Listen, "127.0.0.1:8080"),
		metricsAddr: cfg.MetricsListen,
		store:       st,
		j:           j,
		conns:       make(map[int64]*conn),
		metrics:     metrics.New(),
		readTimeout: time.Duration(cmp.Or(cfg.ReadTimeoutMillis, 200)) * time.Millisecond,
		deadAfter:   time.Duration(cmp.Or(cfg.HeartbeatTimeoutSeconds, 20)) * time.Second,
		sweepEvery:  time.Duration(cmp.Or(cfg.SweepIntervalMillis, 1000)) * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
		startedAt:   time.Now(),
	}

	s.metrics.RegisterLoggedIn(func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		var n float64
		for _, u := range s.store.Users() {
			if u.LoggedIn {
				n++
			}
		}
		return n
	})
	s.metrics.RegisterJournal(
		func() float64 { return float64(j.Appends()) },
		func() float64 { return float64(j.Drops()) },
	)

	return s, nil
}

// Listen binds the configured address and serves until a shutdown signal or
// Shutdown call. SO_REUSEADDR is set so a restart does not trip over the
// previous process's TIME_WAIT sockets.
func (s *Server) Listen() error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}

	ln, err := lc.Listen(s.ctx, "tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.listenAddr, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			s.Shutdown()
		case <-s.ctx.Done():
		}
	}()

	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. Listen is the usual entry
// point; tests hand in their own listener.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	go s.sweeper()
	s.serveMetrics()

	slog.Info("server listening", "addr", ln.Addr())

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				slog.Error("accept error", "err", err)
				continue
			}
		}
		c := s.register(nc)
		s.metrics.ConnectionOpened()
		go s.handleConn(c)
	}
}

func (s *Server) register(nc net.Conn) *conn {
	c := &conn{
		id: s.connIDs.Add(1),
		pc: protocol.NewConn(nc, s.readTimeout),
	}
	c.touch()
	s.connMu.Lock()
	s.conns[c.id] = c
	s.connMu.Unlock()
	return c
}

func (s *Server) unregister(id int64) {
	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
}

// known reports whether the connection is still in the table; the sweep may
// have evicted it while its read loop was blocked.
func (s *Server) known(id int64) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_, ok := s.conns[id]
	return ok
}

func (s *Server) handleConn(c *conn) {
	slog.Debug("connection accepted", "conn", c.id, "remote", c.pc.RemoteAddr())

	defer func() {
		s.unregister(c.id)
		c.pc.Close()
		s.metrics.ConnectionClosed()
		slog.Debug("connection closed", "conn", c.id)
	}()

	for {
		op, err := c.pc.ReadOpcode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("read opcode", "conn", c.id, "err", err)
			}
			return
		}

		if op > protocol.OpRegisterGroup {
			slog.Warn("unknown opcode, dropping connection", "conn", c.id, "opcode", uint8(op))
			return
		}
		s.metrics.Request(op.String())

		switch op {
		case protocol.OpSendMessage:
			s.handleSendMessage(c)
		case protocol.OpDeleteMessage:
			s.handleDeleteMessage(c)
		case protocol.OpGetMessages:
			s.handleGetMessages(c)
		case protocol.OpGetUsers:
			s.handleGetUsers(c)
		case protocol.OpSetStatus:
			s.handleSetStatus(c)
		case protocol.OpLogin:
			s.handleLogin(c)
		case protocol.OpLogout:
			s.handleLogout(c)
		case protocol.OpRegister:
			s.handleRegister(c)
		case protocol.OpGoodbye:
			// Close with no reply. A bound session stays bound until the
			// client logs out or the sweep reclaims it.
			slog.Debug("goodbye", "conn", c.id)
			return
		case protocol.OpHeartbeat:
			s.handleHeartbeat(c)
		case protocol.OpGetGroups:
			s.handleGetGroups(c)
		case protocol.OpRegisterGroup:
			s.handleRegisterGroup(c)
		}
	}
}

func (s *Server) sweeper() {
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

// sweep evicts every connection silent for longer than the heartbeat
// timeout. Eviction logs out users bound to the connection but journals
// nothing; liveness is not durable.
func (s *Server) sweep(now time.Time) {
	var stale []*conn
	s.connMu.Lock()
	for id, c := range s.conns {
		if now.UnixMilli()-c.lastHeartbeat.Load() > s.deadAfter.Milliseconds() {
			stale = append(stale, c)
			delete(s.conns, id)
		}
	}
	s.connMu.Unlock()

	for _, c := range stale {
		s.mu.Lock()
		for _, u := range s.store.UsersOnConn(c.id) {
			slog.Info("user did not log out, presumed dead", "user", u.Name, "conn", c.id)
			s.store.Logout(u)
		}
		s.mu.Unlock()

		slog.Info("connection evicted", "conn", c.id, "remote", c.pc.RemoteAddr())
		c.pc.Close()
		s.metrics.ConnectionEvicted()
	}
}

func (s *Server) serveMetrics() {
	if s.metricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	})
	s.metricsSrv = &http.Server{Addr: s.metricsAddr, Handler: mux}

	go func() {
		slog.Info("metrics listening", "addr", s.metricsAddr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	slog.Info("server shutting down", "uptime", time.Since(s.startedAt).Round(time.Second))
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}

	s.connMu.Lock()
	for _, c := range s.conns {
		c.pc.Close()
	}
	clear(s.conns)
	s.connMu.Unlock()

	s.mu.Lock()
	if err := s.j.Close(); err != nil {
		slog.Warn("close journal", "err", err)
	}
	s.mu.Unlock()
}
