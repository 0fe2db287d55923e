// Package ws implements the WebSocket bridge: once an
// HTTP/1.1 request is recognized as an RFC 6455 upgrade, the engine
// hands the raw TCP connection here for a transparent bidirectional
// frame copy. Individual WebSocket frames are never exposed to the
// script layer; only the upgrade handshake itself is a Flow.
package ws

import (
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// Bridge copies frames between a terminated client connection and the
// re-dialed upstream connection, both already upgraded to WebSocket.
// The two peers are relayed independently; roxy proxies rather than
// serves.
type Bridge struct {
	Upgrader websocket.Upgrader
}

// New creates a Bridge with permissive defaults. Roxy does not enforce
// an Origin policy: it is a transparent intermediary, not an
// application server.
func New() *Bridge {
	return &Bridge{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Relay copies frames bidirectionally between client and upstream
// until either side closes or errors. Both connections must already be
// completed WebSocket connections (post-handshake).
func (b *Bridge) Relay(client, upstream *websocket.Conn) error {
	errCh := make(chan error, 2)

	go func() { errCh <- copyFrames(upstream, client) }()
	go func() { errCh <- copyFrames(client, upstream) }()

	// The first direction to finish decides the outcome; closing both
	// connections unblocks the other direction's pending ReadMessage.
	err := <-errCh
	client.Close()
	upstream.Close()
	<-errCh

	if err != nil && !isCloseError(err) {
		return err
	}
	return nil
}

// copyFrames relays every message read from src to dst until src
// closes or errors.
func copyFrames(dst, src *websocket.Conn) error {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return err
		}
	}
}

func isCloseError(err error) bool {
	if _, ok := err.(*websocket.CloseError); ok {
		return true
	}
	return err == io.EOF || err == net.ErrClosed
}
