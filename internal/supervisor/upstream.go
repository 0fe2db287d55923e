package supervisor

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/http1"
	"github.com/roxyhq/roxy/internal/rerr"
	"github.com/roxyhq/roxy/internal/tlsterm"
)

// upstreamDialTimeout bounds the plain TCP dial, which also honours the
// flow-level timeout (flowTimeout, wrapping the whole
// orchestrator.handle call) through its context. TLS dials go through
// tlsterm.Terminator.DialUpstream, which applies its own dial timeout
// and takes no context.
const upstreamDialTimeout = 10 * time.Second

// roxy always re-issues the upstream request as HTTP/1.1, whatever
// protocol the downstream connection negotiated. A single HTTP/1.1
// client path covers every downstream protocol uniformly instead of
// needing separate HTTP/2 and HTTP/3 upstream client stacks.
var upstreamALPN = []string{"http/1.1"}

// roundTripUpstream dials req's target (over TLS when
// req.URL.Protocol() is "https", so a script that flips the protocol
// changes how upstream is dialed) and re-issues req as an HTTP/1.1
// message, returning the parsed response.
func roundTripUpstream(ctx context.Context, term *tlsterm.Terminator, req *flow.Request) (*flow.Response, error) {
	hostname, _ := req.URL.Hostname()
	addr := net.JoinHostPort(hostname, req.URL.PortOrDefault())

	conn, err := dialUpstream(ctx, term, req, addr, hostname)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := http1.WriteRequest(conn, req); err != nil {
		return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "writing request to %s", addr)
	}

	br := bufio.NewReader(conn)
	resp, err := http1.ReadResponse(br)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rerr.Wrap(rerr.KindUpstreamTimeout, err, "reading response from %s", addr)
		}
		return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "reading response from %s", addr)
	}
	return resp, nil
}

func dialUpstream(ctx context.Context, term *tlsterm.Terminator, req *flow.Request, addr, sni string) (net.Conn, error) {
	if req.URL.Protocol() == "https" {
		conn, err := term.DialUpstream(addr, sni, upstreamALPN)
		if err != nil {
			return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "dialing tls upstream %s", addr)
		}
		return conn, nil
	}

	dialer := &net.Dialer{Timeout: upstreamDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "dialing upstream %s", addr)
	}
	return conn, nil
}
