// Package supervisor implements the Connection Supervisor:
// it owns the accept loop on every configured listener, sniffs each
// fresh connection, and wires it to the right protocol engine —
// http1, h2engine, or h3engine — running the script host's
// request/response dispatch and the upstream round trip in between:
//
//	ClientSocket → Supervisor → (TLS Terminator if CONNECT/443) →
//	Sniffer → Protocol Engine → Flow(req) → ScriptHost.request →
//	upstream → Flow(resp) → ScriptHost.response → Protocol Engine → client
//
// The supervisor runs a raw net.Listener accept loop rather than an
// http.Server, since roxy terminates TLS itself (per-SNI leaf
// issuance) and hands bare connections to whichever engine the
// sniffer picks.
package supervisor

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/roxyhq/roxy/internal/ca"
	"github.com/roxyhq/roxy/internal/h2engine"
	"github.com/roxyhq/roxy/internal/h3engine"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/rerr"
	"github.com/roxyhq/roxy/internal/script"
	"github.com/roxyhq/roxy/internal/sniff"
	"github.com/roxyhq/roxy/internal/tlsterm"
	"github.com/roxyhq/roxy/internal/ws"
)

// Default limits and timeouts.
const (
	DefaultShutdownGrace = 5 * time.Second
	DefaultIdleTimeout   = 60 * time.Second
	DefaultFlowTimeout   = 300 * time.Second
)

// Config configures a Supervisor. Mirrors the flags cmd/roxy exposes.
type Config struct {
	// Addr is the HTTP/1+2 listener address, e.g. ":8080".
	Addr string
	// H3Addr is the optional HTTP/3 (QUIC) listener address.
	H3Addr string

	CA     *ca.Store
	Host   *script.Host
	Sink   *notify.Sink
	Logger *slog.Logger

	// WorkerPoolSize bounds concurrently-handled connections. Defaults
	// to the number of CPU cores.
	WorkerPoolSize int
	ShutdownGrace  time.Duration
	IdleTimeout    time.Duration
	FlowTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = runtime.NumCPU()
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.FlowTimeout <= 0 {
		c.FlowTimeout = DefaultFlowTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Supervisor owns the listeners and the in-flight connection set.
type Supervisor struct {
	cfg    Config
	term   *tlsterm.Terminator
	orch   *orchestrator
	bridge *ws.Bridge

	ln   net.Listener
	h3ln *h3engine.Listener

	sem chan struct{} // worker-pool bound

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Supervisor from cfg. It does not yet open any
// listener; call Serve for that.
func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	term := tlsterm.New(cfg.CA)
	return &Supervisor{
		cfg:    cfg,
		term:   term,
		orch:   &orchestrator{host: cfg.Host, term: term, log: cfg.Logger, flowTimeout: cfg.FlowTimeout},
		bridge: ws.New(),
		sem:    make(chan struct{}, cfg.WorkerPoolSize),
	}
}

// Serve opens the configured listener(s) and runs the accept loop(s)
// until ctx is cancelled. It returns once every accept loop has
// stopped and in-flight connections have drained or the shutdown
// grace period elapsed.
func (s *Supervisor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return rerr.Wrap(rerr.KindResourceExhausted, err, "binding listener on %s", s.cfg.Addr)
	}
	s.ln = ln
	s.cfg.Logger.Info("listening", "addr", ln.Addr().String())

	var h3errCh chan error
	if s.cfg.H3Addr != "" {
		h3ln, err := h3engine.Listen(s.cfg.H3Addr, s.term.ServerConfig())
		if err != nil {
			ln.Close()
			return err
		}
		s.h3ln = h3ln
		s.cfg.Logger.Info("listening (h3)", "addr", s.cfg.H3Addr)
		h3errCh = make(chan error, 1)
		go func() { h3errCh <- s.acceptH3Loop(ctx) }()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.acceptLoop(ctx) }()

	go func() {
		<-ctx.Done()
		ln.Close()
		if s.h3ln != nil {
			s.h3ln.Close()
		}
	}()

	err = <-errCh
	if h3errCh != nil {
		<-h3errCh
	}
	if err != nil && !rerr.IsCancelled(err) {
		return err
	}
	return nil
}

// Shutdown cancels the accept loops and waits up to the configured
// grace period for in-flight connections to finish; stragglers are
// dropped.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.cfg.Host.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.cfg.Logger.Warn("shutdown grace period elapsed; dropping in-flight connections")
	}
}

func (s *Supervisor) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return rerr.Cancelled("listener closed for shutdown")
			default:
				return rerr.Wrap(rerr.KindResourceExhausted, err, "accepting connection")
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return rerr.Cancelled("listener closed for shutdown")
		}

		s.wg.Add(1)
		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer s.wg.Done()
			defer cancel()
			defer func() { <-s.sem }()
			s.handleConn(connCtx, conn, "http")
		}()
	}
}

func (s *Supervisor) acceptH3Loop(ctx context.Context) error {
	for {
		qconn, err := s.h3ln.Accept(ctx)
		if err != nil {
			return err
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return rerr.Cancelled("h3 listener closed for shutdown")
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleH3Conn(ctx, qconn)
		}()
	}
}

// handleConn dispatches one freshly accepted TCP connection to the
// matching protocol engine after peeking its first bytes.
// defaultScheme records which listener accepted the connection ("http"
// for the plain port, "https" once a CONNECT tunnel or direct TLS
// handshake has completed) so origin-form request targets resolve
// correctly.
func (s *Supervisor) handleConn(ctx context.Context, conn net.Conn, defaultScheme string) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	proto, err := sniff.Classify(br)
	if err != nil && proto == sniff.ProtocolUnknown {
		s.cfg.Logger.Debug("sniff failed", "error", err, "remote", conn.RemoteAddr())
		return
	}

	switch proto {
	case sniff.ProtocolHTTP2Preface:
		if err := h2engine.Serve(ctx, prefaceConn{Conn: conn, r: br}, s.orch.handleH2(defaultScheme)); err != nil && !rerr.IsCancelled(err) {
			s.cfg.Logger.Debug("h2 connection ended", "error", err)
		}

	case sniff.ProtocolTLS:
		s.handleTLS(ctx, prefaceConn{Conn: conn, r: br})

	case sniff.ProtocolHTTP1:
		s.handleHTTP1(ctx, conn, br, defaultScheme)

	default:
		// Opaque passthrough has no destination to
		// relay to without a preceding CONNECT, so an opaque byte
		// stream arriving directly on the listener is simply closed.
	}
}

func (s *Supervisor) handleTLS(ctx context.Context, conn net.Conn) {
	tlsConn, err := s.term.Handshake(conn)
	if err != nil {
		s.cfg.Logger.Debug("tls handshake failed", "error", err)
		return
	}
	defer tlsConn.Close()

	switch tlsterm.NegotiatedHTTPVersion(tlsConn) {
	case "h2":
		if err := h2engine.Serve(ctx, tlsConn, s.orch.handleH2("https")); err != nil && !rerr.IsCancelled(err) {
			s.cfg.Logger.Debug("h2 (tls) connection ended", "error", err)
		}
	default:
		br := bufio.NewReader(tlsConn)
		s.handleHTTP1(ctx, tlsConn, br, "https")
	}
}

func (s *Supervisor) handleH3Conn(ctx context.Context, qconn *quic.Conn) {
	streamLoopH3(ctx, qconn, s.orch)
}
