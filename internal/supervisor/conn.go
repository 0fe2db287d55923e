package supervisor

import (
	"bufio"
	"net"
)

// prefaceConn lets a connection be peeked via sniff.Classify and then
// handed, unconsumed, to a component (tlsterm.Terminator.Handshake,
// h2engine.Serve) that wants a plain net.Conn: reads are satisfied
// from the bufio.Reader that already buffered the peeked bytes first,
// then fall through to the underlying connection once drained.
type prefaceConn struct {
	net.Conn
	r *bufio.Reader
}

func (c prefaceConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
