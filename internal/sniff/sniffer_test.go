package sniff

import (
	"bufio"
	"bytes"
	"testing"
)

func classify(t *testing.T, data []byte) Protocol {
	t.Helper()
	r := bufio.NewReaderSize(bytes.NewReader(data), 64)
	p, err := Classify(r)
	if err != nil && len(data) >= peekWindow {
		t.Fatalf("Classify: %v", err)
	}
	return p
}

func TestClassify_HTTP2Preface(t *testing.T) {
	data := []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\nrest-of-stream")
	if got := classify(t, data); got != ProtocolHTTP2Preface {
		t.Fatalf("got %s", got)
	}
}

func TestClassify_TLSRecord(t *testing.T) {
	data := append([]byte{0x16, 0x03, 0x01, 0x00, 0x05}, bytes.Repeat([]byte{0}, 20)...)
	if got := classify(t, data); got != ProtocolTLS {
		t.Fatalf("got %s", got)
	}
}

func TestClassify_HTTP1RequestLine(t *testing.T) {
	for _, line := range []string{
		"GET / HTTP/1.1\r\nHost: x\r\n\r\n",
		"POST /api HTTP/1.1\r\n\r\n",
		"CONNECT example.com:443 HTTP/1.1\r\n\r\n",
	} {
		if got := classify(t, []byte(line)); got != ProtocolHTTP1 {
			t.Fatalf("line %q: got %s", line, got)
		}
	}
}

func TestClassify_OpaqueFallback(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 8)
	if got := classify(t, data); got != ProtocolOpaque {
		t.Fatalf("got %s", got)
	}
}

func TestClassify_PriorityOrderPrefersHTTP2OverHTTP1Prefix(t *testing.T) {
	// "PRI " alone also happens to not collide with any HTTP method,
	// but this guards the documented priority: a full preface match
	// must win even though it starts like a request line.
	data := []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
	if got := classify(t, data); got != ProtocolHTTP2Preface {
		t.Fatalf("got %s", got)
	}
}

func TestClassify_ShortReadStillClassifies(t *testing.T) {
	data := []byte("GET /")
	p, err := Classify(bufio.NewReaderSize(bytes.NewReader(data), 64))
	if err == nil {
		t.Fatal("expected an EOF-style error signaling a short read")
	}
	if p != ProtocolHTTP1 {
		t.Fatalf("expected best-effort classification on short read, got %s", p)
	}
}
