package http1

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/roxyhq/roxy/internal/flow"
)

func TestReadRequest_OriginFormUsesHostHeader(t *testing.T) {
	raw := "GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\nX-Test: yes\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != flow.MethodGet {
		t.Fatalf("got method %s", req.Method)
	}
	if host, _ := req.URL.Hostname(); host != "example.com" {
		t.Fatalf("got hostname %q", host)
	}
	if req.URL.String() != "http://example.com/a/b?x=1" {
		t.Fatalf("got url %q", req.URL.String())
	}
}

func TestReadRequest_ConnectAuthorityForm(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != flow.MethodConnect {
		t.Fatalf("got method %s", req.Method)
	}
	if port := req.URL.PortOrDefault(); port != "443" {
		t.Fatalf("got port %q", port)
	}
}

func TestReadRequest_ContentLengthBody(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Body.Text() != "hello" {
		t.Fatalf("got body %q", req.Body.Text())
	}
}

func TestReadRequest_ChunkedBody(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Body.Text() != "hello world" {
		t.Fatalf("got body %q", req.Body.Text())
	}
}

func TestReadRequest_HeadCapExceeded(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\nHost: h\r\n")
	// 50 fields stay under the 100-field cap, while their ~100KB of
	// values exceed the 64KiB byte cap.
	for i := 0; i < 50; i++ {
		b.WriteString("X-Pad: " + strings.Repeat("0", 2000) + "\r\n")
	}
	b.WriteString("\r\n")

	_, err := ReadRequest(bufio.NewReaderSize(strings.NewReader(b.String()), 128*1024), "http")
	if err == nil {
		t.Fatal("expected an error once the 64KiB head cap is exceeded")
	}
}

func TestReadRequest_HeaderFieldCountExceeded(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\nHost: h\r\n")
	for i := 0; i < MaxHeaderCnt+5; i++ {
		b.WriteString("X-N: v\r\n")
	}
	b.WriteString("\r\n")

	_, err := ReadRequest(bufio.NewReader(strings.NewReader(b.String())), "http")
	if err == nil {
		t.Fatal("expected an error once header field count exceeds the cap")
	}
}

func TestWriteRequest_StripsHopByHopHeaders(t *testing.T) {
	u := flow.NewURL("http", "example.com")
	u.SetPath("/x")
	req := flow.NewRequest(flow.MethodGet, u, flow.Version11)
	req.Headers.Append("Host", "example.com")
	req.Headers.Append("Connection", "keep-alive")
	req.Headers.Append("Keep-Alive", "timeout=5")
	req.Headers.Append("X-Keep", "yes")

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "Connection:") || strings.Contains(out, "Keep-Alive:") {
		t.Fatalf("expected hop-by-hop headers stripped, got:\n%s", out)
	}
	if !strings.Contains(out, "X-Keep: yes") {
		t.Fatalf("expected non-hop-by-hop header preserved, got:\n%s", out)
	}
}

func TestWriteRequest_RecomputesContentLengthAfterBodyRewrite(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\n0123456789"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}

	// A handler rewriting the body to a different length must see the
	// framing follow it.
	req.Body.SetText("len is 10 request")

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Content-Length: 17\r\n") {
		t.Fatalf("expected recomputed Content-Length: 17, got:\n%s", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nlen is 10 request") {
		t.Fatalf("expected rewritten body, got:\n%s", out)
	}
}

func TestParseSerialize_ByteIdenticalForCanonicalSubset(t *testing.T) {
	cases := []string{
		"GET / HTTP/1.1\r\nHost: h\r\n\r\n",
		"POST /api HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello",
		"GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\nX-Test: yes\r\n\r\n",
	}
	for _, raw := range cases {
		req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), "http")
		if err != nil {
			t.Fatalf("ReadRequest(%q): %v", raw, err)
		}
		var buf bytes.Buffer
		if err := WriteRequest(&buf, req); err != nil {
			t.Fatalf("WriteRequest(%q): %v", raw, err)
		}
		if buf.String() != raw {
			t.Fatalf("round trip not byte-identical:\n in: %q\nout: %q", raw, buf.String())
		}
	}
}

func TestReadResponse_RoundTripsStatusAndBody(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 2\r\n\r\nno"
	resp, err := ReadResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != 404 {
		t.Fatalf("got status %d", resp.Status)
	}
	if resp.Body.Text() != "no" {
		t.Fatalf("got body %q", resp.Body.Text())
	}

	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	u := flow.NewURL("http", "h")
	req := flow.NewRequest(flow.MethodGet, u, flow.Version11)
	req.Headers.Append("Connection", "Upgrade")
	req.Headers.Append("Upgrade", "websocket")
	req.Headers.Append("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	if !IsWebSocketUpgrade(req) {
		t.Fatal("expected upgrade request to be detected")
	}
}

func TestWebSocketAccept_MatchesRFC6455Example(t *testing.T) {
	// The canonical example from RFC 6455 §1.3.
	got := WebSocketAccept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
