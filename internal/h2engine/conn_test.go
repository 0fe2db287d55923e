package h2engine

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/roxyhq/roxy/internal/flow"
)

// startServe runs Serve on one end of a pipe, performs the client side
// of the preface exchange, and returns the client end plus a framer
// over it. The server's own SETTINGS frame has already been consumed.
func startServe(t *testing.T, handler Handler) (net.Conn, *http2.Framer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	_ = clientConn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { clientConn.Close() })

	go func() { _ = Serve(context.Background(), serverConn, handler) }()

	if _, err := clientConn.Write([]byte(clientPreface)); err != nil {
		t.Fatalf("writing preface: %v", err)
	}

	fr := http2.NewFramer(clientConn, clientConn)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("reading server settings: %v", err)
	}
	if _, ok := frame.(*http2.SettingsFrame); !ok {
		t.Fatalf("got %T, want the server's initial SETTINGS", frame)
	}
	return clientConn, fr
}

// exchangeSettings sends the client's SETTINGS and consumes the
// server's ack. net.Pipe is unbuffered, so the write and the ack read
// must interleave exactly like this.
func exchangeSettings(t *testing.T, fr *http2.Framer, settings ...http2.Setting) {
	t.Helper()
	if err := fr.WriteSettings(settings...); err != nil {
		t.Fatalf("writing client settings: %v", err)
	}
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("reading settings ack: %v", err)
	}
	sf, ok := frame.(*http2.SettingsFrame)
	if !ok || !sf.IsAck() {
		t.Fatalf("got %T (ack=%v), want a SETTINGS ack", frame, ok && sf.IsAck())
	}
}

func encodeRequestBlock(t *testing.T) []byte {
	t.Helper()
	u := flow.NewURL("https", "example.com")
	u.SetPath("/")
	req := flow.NewRequest(flow.MethodGet, u, flow.Version2)
	block, err := NewCodec().EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	return block
}

// TestServe_AcknowledgesDataWithWindowUpdates: every consumed DATA
// frame must be acknowledged immediately with a stream-level and a
// connection-level WINDOW_UPDATE, before the response arrives.
func TestServe_AcknowledgesDataWithWindowUpdates(t *testing.T) {
	handler := func(ctx context.Context, req *flow.Request) (*flow.Response, error) {
		return flow.NewResponse(200, flow.Version2), nil
	}
	conn, fr := startServe(t, handler)
	defer conn.Close()
	exchangeSettings(t, fr)

	if err := fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: encodeRequestBlock(t),
		EndHeaders:    true,
	}); err != nil {
		t.Fatalf("writing request headers: %v", err)
	}
	body := []byte("hello")
	if err := fr.WriteData(1, true, body); err != nil {
		t.Fatalf("writing request data: %v", err)
	}

	var sawStreamUpdate, sawConnUpdate bool
	var respHeaders *http2.HeadersFrame
	for respHeaders == nil {
		frame, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		switch f := frame.(type) {
		case *http2.WindowUpdateFrame:
			if f.StreamID == 1 && f.Increment == uint32(len(body)) {
				sawStreamUpdate = true
			}
			if f.StreamID == 0 && f.Increment == uint32(len(body)) {
				sawConnUpdate = true
			}
		case *http2.HeadersFrame:
			respHeaders = f
		}
	}

	if !sawStreamUpdate {
		t.Fatal("expected a stream-level WINDOW_UPDATE for the consumed DATA frame")
	}
	if !sawConnUpdate {
		t.Fatal("expected a connection-level WINDOW_UPDATE for the consumed DATA frame")
	}
	if !respHeaders.StreamEnded() {
		t.Fatal("expected the empty-body response to end the stream on HEADERS")
	}

	fields, err := hpack.NewDecoder(4096, nil).DecodeFull(respHeaders.HeaderBlockFragment())
	if err != nil {
		t.Fatalf("decoding response headers: %v", err)
	}
	var status string
	for _, f := range fields {
		if f.Name == ":status" {
			status = f.Value
		}
	}
	if status != "200" {
		t.Fatalf("got :status %q, want 200", status)
	}
}

// TestServe_RespectsPeerSendWindow: with the client advertising a
// 4-byte initial window, a 10-byte response body must arrive in chunks
// no larger than 4 bytes, the writer blocking between chunks until the
// client grants more window.
func TestServe_RespectsPeerSendWindow(t *testing.T) {
	respBody := []byte("0123456789")
	handler := func(ctx context.Context, req *flow.Request) (*flow.Response, error) {
		resp := flow.NewResponse(200, flow.Version2)
		resp.Body.SetBytes(respBody)
		return resp, nil
	}
	conn, fr := startServe(t, handler)
	defer conn.Close()
	exchangeSettings(t, fr, http2.Setting{ID: http2.SettingInitialWindowSize, Val: 4})

	if err := fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: encodeRequestBlock(t),
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("writing request headers: %v", err)
	}

	var got []byte
	done := false
	for !done {
		frame, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		switch f := frame.(type) {
		case *http2.DataFrame:
			if len(f.Data()) > 4 {
				t.Fatalf("DATA frame of %d bytes exceeds the advertised 4-byte window", len(f.Data()))
			}
			got = append(got, f.Data()...)
			if f.StreamEnded() {
				done = true
				break
			}
			// Grant back exactly what was consumed; the writer is
			// blocked on this until it arrives.
			if err := fr.WriteWindowUpdate(1, uint32(len(f.Data()))); err != nil {
				t.Fatalf("writing window update: %v", err)
			}
		}
	}

	if string(got) != string(respBody) {
		t.Fatalf("got body %q, want %q", got, respBody)
	}
}
