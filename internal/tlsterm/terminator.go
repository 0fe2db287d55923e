// Package tlsterm implements the TLS Terminator: it
// accepts the downstream TLS connection using a just-in-time leaf
// minted by internal/ca, keyed off the ClientHello's SNI, and dials
// upstream TLS against the OS trust store (or, when configured, against
// ExtraRoots instead) for re-issuing the request.
package tlsterm

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/roxyhq/roxy/internal/ca"
	"github.com/roxyhq/roxy/internal/rerr"
)

// dialTimeout bounds the upstream TCP connect plus TLS handshake.
const dialTimeout = 10 * time.Second

// CertIssuer is the subset of ca.Store the terminator depends on.
type CertIssuer interface {
	IssueLeaf(sni string) (*ca.LeafMaterial, error)
}

// Terminator performs downstream TLS termination and upstream TLS
// dialing.
type Terminator struct {
	issuer CertIssuer
	// ExtraRoots, when set, replaces the OS trust store for upstream
	// dials, e.g. in tests against a self-signed origin.
	ExtraRoots *x509.CertPool
}

// New creates a Terminator backed by issuer.
func New(issuer CertIssuer) *Terminator {
	return &Terminator{issuer: issuer}
}

// downstreamALPN is offered to clients in priority order: h2
// preferred, http/1.1 fallback. h3 is negotiated out of band over UDP
// by internal/h3engine, not via this ALPN list.
var downstreamALPN = []string{"h2", "http/1.1"}

// ServerConfig returns a *tls.Config suitable for (*tls.Conn) driven
// by net/http or a raw Listener, minting leaves lazily per SNI via
// GetConfigForClient: the leaf for a hostname exists only after the
// first ClientHello that names it.
func (t *Terminator) ServerConfig() *tls.Config {
	return &tls.Config{
		NextProtos: downstreamALPN,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			sni := hello.ServerName
			if sni == "" {
				sni = hello.Conn.LocalAddr().String()
			}

			leaf, err := t.issuer.IssueLeaf(sni)
			if err != nil {
				return nil, rerr.Wrap(rerr.KindTLSHandshakeFailed, err, "issuing leaf for sni %s", sni)
			}

			cert := tls.Certificate{
				Certificate: certsToDER(leaf.Chain),
				PrivateKey:  leaf.Key,
				Leaf:        leaf.Chain[0],
			}

			return &tls.Config{
				Certificates: []tls.Certificate{cert},
				NextProtos:   downstreamALPN,
				MinVersion:   tls.VersionTLS12,
			}, nil
		},
	}
}

// Handshake terminates downstream TLS on conn and returns the resulting
// *tls.Conn with its negotiated ALPN protocol available via
// ConnectionState().NegotiatedProtocol.
func (t *Terminator) Handshake(conn net.Conn) (*tls.Conn, error) {
	tlsConn := tls.Server(conn, t.ServerConfig())
	if err := tlsConn.Handshake(); err != nil {
		return nil, rerr.Wrap(rerr.KindTLSHandshakeFailed, err, "downstream tls handshake")
	}
	return tlsConn, nil
}

// DialUpstream dials addr (host:port) with TLS, requesting ALPN
// candidates in priority order and validating against the OS trust
// store, or against t.ExtraRoots alone if set.
func (t *Terminator) DialUpstream(addr, serverName string, alpn []string) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		NextProtos: alpn,
		RootCAs:    t.ExtraRoots,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, cfg)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindUpstreamUnreachable, err, "dialing upstream tls %s", addr)
	}
	return conn, nil
}

// NegotiatedHTTPVersion inspects a terminated *tls.Conn's ALPN result
// and returns "h2" or "http/1.1", defaulting to http/1.1 when the peer
// did not negotiate ALPN at all.
func NegotiatedHTTPVersion(conn *tls.Conn) string {
	proto := conn.ConnectionState().NegotiatedProtocol
	switch proto {
	case "h2":
		return "h2"
	default:
		return "http/1.1"
	}
}

func certsToDER(chain []*x509.Certificate) [][]byte {
	out := make([][]byte, len(chain))
	for i, c := range chain {
		out[i] = c.Raw
	}
	return out
}
