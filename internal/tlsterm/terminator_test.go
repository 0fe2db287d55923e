package tlsterm

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/roxyhq/roxy/internal/ca"
)

func newTestIssuer(t *testing.T) *ca.Store {
	t.Helper()
	s, err := ca.NewStore(ca.Options{Dir: t.TempDir(), DisablePersistentLeafCache: true})
	if err != nil {
		t.Fatalf("ca.NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTerminator_HandshakeMintsLeafForSNI(t *testing.T) {
	issuer := newTestIssuer(t)
	term := New(issuer)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := term.Handshake(serverConn)
		done <- err
	}()

	clientCfg := &tls.Config{InsecureSkipVerify: true, ServerName: "intercepted.test"}
	clientTLS := tls.Client(clientConn, clientCfg)
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer clientTLS.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server handshake: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}

	cert := clientTLS.ConnectionState().PeerCertificates[0]
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "intercepted.test" {
		t.Fatalf("expected leaf minted for SNI, got DNSNames %v", cert.DNSNames)
	}
	if issuer.LeafCacheLen() != 1 {
		t.Fatalf("expected the SNI leaf to be cached, got %d entries", issuer.LeafCacheLen())
	}
}

func TestNegotiatedHTTPVersion_DefaultsToHTTP11(t *testing.T) {
	issuer := newTestIssuer(t)
	term := New(issuer)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan *tls.Conn, 1)
	go func() {
		conn, err := term.Handshake(serverConn)
		if err != nil {
			t.Errorf("server handshake: %v", err)
		}
		done <- conn
	}()

	clientTLS := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true, ServerName: "noalpn.test"})
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer clientTLS.Close()

	serverConnTLS := <-done
	if NegotiatedHTTPVersion(serverConnTLS) != "http/1.1" {
		t.Fatalf("expected default http/1.1, got %s", NegotiatedHTTPVersion(serverConnTLS))
	}
}
