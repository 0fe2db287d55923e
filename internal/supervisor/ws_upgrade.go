package supervisor

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/roxyhq/roxy/internal/flow"
)

// wsReservedHeaders are generated by gorilla/websocket itself for both
// the client and server handshake; forwarding the client's own copies
// of them upstream would make NewClient reject the request as a
// duplicate header.
var wsReservedHeaders = map[string]bool{
	"connection":               true,
	"upgrade":                  true,
	"sec-websocket-key":        true,
	"sec-websocket-version":    true,
	"sec-websocket-extensions": true,
	"sec-websocket-protocol":   true,
}

// handleWebSocketUpgrade bridges an RFC 6455 upgrade end to end: it
// dials upstream and completes the client-side handshake there, then
// completes the server-side handshake with the downstream peer using a
// small http.ResponseWriter/http.Hijacker adapter (gorilla/websocket's
// Upgrader only knows how to upgrade a net/http handler, which roxy's
// raw accept loop doesn't run), and finally relays frames with
// internal/ws's Bridge (only the handshake is a Flow; frame
// contents are never exposed to scripts).
func (s *Supervisor) handleWebSocketUpgrade(ctx context.Context, conn net.Conn, br *bufio.Reader, req *flow.Request) {
	hostname, _ := req.URL.Hostname()
	addr := net.JoinHostPort(hostname, req.URL.PortOrDefault())

	upstreamConn, err := dialUpstream(ctx, s.term, req, addr, hostname)
	if err != nil {
		s.cfg.Logger.Debug("websocket upstream dial failed", "error", err)
		return
	}
	defer upstreamConn.Close()

	path, _ := req.URL.Path()
	if path == "" {
		path = "/"
	}
	wsURL := &url.URL{Scheme: wsScheme(req.URL.Protocol()), Host: addr, Path: path}

	upstreamHeader := make(http.Header)
	for _, p := range req.Headers.Items(true) {
		if wsReservedHeaders[asciiLower(p.Name)] {
			continue
		}
		upstreamHeader.Add(p.Name, p.Value)
	}

	upstreamWS, upstreamResp, err := websocket.NewClient(upstreamConn, wsURL, upstreamHeader, 4096, 4096)
	if err != nil {
		s.cfg.Logger.Debug("websocket upstream handshake failed", "error", err)
		return
	}
	defer upstreamResp.Body.Close()
	defer upstreamWS.Close()

	hw := newHijackWriter(conn, br)
	clientWS, err := s.bridge.Upgrader.Upgrade(hw, toHTTPRequest(req), nil)
	if err != nil {
		s.cfg.Logger.Debug("websocket downstream upgrade failed", "error", err)
		return
	}
	defer clientWS.Close()

	if err := s.bridge.Relay(clientWS, upstreamWS); err != nil {
		s.cfg.Logger.Debug("websocket relay ended", "error", err)
	}
}

func wsScheme(protocol string) string {
	if protocol == "https" {
		return "wss"
	}
	return "ws"
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// toHTTPRequest adapts a flow.Request to the minimal *http.Request
// shape websocket.Upgrader.Upgrade inspects: method and headers.
func toHTTPRequest(req *flow.Request) *http.Request {
	h := make(http.Header)
	for _, p := range req.Headers.Items(true) {
		h.Add(p.Name, p.Value)
	}
	path, _ := req.URL.Path()
	return &http.Request{
		Method: string(req.Method),
		Header: h,
		URL:    &url.URL{Path: path},
	}
}

// hijackWriter adapts a raw, already head-parsed client connection to
// http.ResponseWriter + http.Hijacker so gorilla/websocket's Upgrader
// can drive the downstream handshake without roxy running an
// http.Server.
type hijackWriter struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header
}

func newHijackWriter(conn net.Conn, br *bufio.Reader) *hijackWriter {
	return &hijackWriter{conn: conn, br: br, header: make(http.Header)}
}

func (w *hijackWriter) Header() http.Header         { return w.header }
func (w *hijackWriter) Write(p []byte) (int, error) { return w.conn.Write(p) }
func (w *hijackWriter) WriteHeader(int)             {}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn, bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn)), nil
}
