package h3engine

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/roxyhq/roxy/internal/rerr"
)

// Listener accepts QUIC connections on the dedicated HTTP/3 UDP port.
type Listener struct {
	ql *quic.Listener
}

// quicALPN is the ALPN token HTTP/3 clients offer per RFC 9114 §3.1.
const quicALPN = "h3"

// Listen opens a QUIC listener on addr ("host:port") using tlsConf for
// the downstream handshake. tlsConf.NextProtos is overwritten with the
// "h3" token since HTTP/3 negotiates over QUIC's own ALPN, independent
// of the TCP-side terminator's "h2"/"http/1.1" offer.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{quicALPN}

	ql, err := quic.ListenAddr(addr, conf, &quic.Config{})
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTLSHandshakeFailed, err, "listening for quic on %s", addr)
	}
	return &Listener{ql: ql}, nil
}

// Accept blocks for the next QUIC connection.
func (l *Listener) Accept(ctx context.Context) (*quic.Conn, error) {
	conn, err := l.ql.Accept(ctx)
	if err != nil {
		if rerr.IsCancelled(err) {
			return nil, rerr.Cancelled("h3 listener accept cancelled")
		}
		return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "accepting quic connection")
	}
	return conn, nil
}

// Close shuts down the listener.
func (l *Listener) Close() error {
	return l.ql.Close()
}

// Addr reports the bound address, mainly for logging at startup.
func (l *Listener) Addr() fmt.Stringer {
	return l.ql.Addr()
}
