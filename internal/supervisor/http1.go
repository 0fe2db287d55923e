package supervisor

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/http1"
	"github.com/roxyhq/roxy/internal/rerr"
)

// handleHTTP1 runs the keep-alive request loop for one HTTP/1.1
// connection: each request is read, dispatched through the
// orchestrator (or diverted to a CONNECT tunnel / WebSocket upgrade),
// and its response written back, until the peer closes the connection
// or either side asks to close it. Responses are written in arrival
// order.
func (s *Supervisor) handleHTTP1(ctx context.Context, conn net.Conn, br *bufio.Reader, scheme string) {
	for {
		_ = conn.SetReadDeadline(deadlineFrom(s.cfg.IdleTimeout))
		req, err := http1.ReadRequest(br, scheme)
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		if req.Method == flow.MethodConnect {
			s.handleConnect(ctx, conn, req)
			return
		}

		if http1.IsWebSocketUpgrade(req) {
			s.handleWebSocketUpgrade(ctx, conn, br, req)
			return
		}

		resp, herr := s.orch.handle(ctx, req)
		if herr != nil {
			if rerr.IsCancelled(herr) {
				return
			}
			resp = synthesizeErrorResponse(herr, req.Version)
		}

		if err := http1.WriteResponse(conn, resp); err != nil {
			return
		}

		if shouldCloseAfter(req, resp) {
			return
		}
	}
}

// handleConnect answers a CONNECT tunnel request with "200 Connection
// Established" and then re-enters the sniffer on the same connection
// (the client begins a fresh TLS — or, rarely, cleartext
// h2 — handshake through the tunnel immediately afterward).
func (s *Supervisor) handleConnect(ctx context.Context, conn net.Conn, req *flow.Request) {
	resp := flow.NewResponse(200, req.Version)
	if err := http1.WriteResponse(conn, resp); err != nil {
		return
	}
	s.handleConn(ctx, conn, "https")
}

func shouldCloseAfter(req *flow.Request, resp *flow.Response) bool {
	if v, ok := resp.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return true
	}
	if v, ok := req.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return true
	}
	return req.Version == flow.Version10
}

func deadlineFrom(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
