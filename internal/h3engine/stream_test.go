package h3engine

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/roxyhq/roxy/internal/flow"
)

func TestEncodeRequestThenReadRequest_RoundTrip(t *testing.T) {
	codec := NewHeaderCodec()
	u := flow.NewURL("https", "example.com")
	u.SetPath("/x")
	req := flow.NewRequest(flow.MethodPost, u, flow.Version3)
	req.Headers.Append("content-type", "text/plain")
	req.Body.SetBytes([]byte("payload"))

	var buf bytes.Buffer
	block, err := codec.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if err := writeFrame(&buf, frameTypeHeaders, block); err != nil {
		t.Fatalf("writeFrame headers: %v", err)
	}
	if err := writeFrame(&buf, frameTypeData, req.Body.Bytes()); err != nil {
		t.Fatalf("writeFrame data: %v", err)
	}

	got, err := ReadRequest(bufio.NewReader(&buf), NewHeaderCodec())
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Body.Text() != "payload" {
		t.Fatalf("got body %q", got.Body.Text())
	}
	if v, ok := got.Headers.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("got header %q, %v", v, ok)
	}
}

func TestWriteResponse_EmitsHeadersThenData(t *testing.T) {
	codec := NewHeaderCodec()
	resp := flow.NewResponse(200, flow.Version3)
	resp.Body.SetBytes([]byte("hi"))

	var buf bytes.Buffer
	if err := WriteResponse(&buf, codec, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	r := bufio.NewReader(&buf)
	typ, payload, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame (headers): %v", err)
	}
	if typ != frameTypeHeaders {
		t.Fatalf("got frame type %#x", typ)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty headers payload")
	}

	typ, payload, err = readFrame(r)
	if err != nil {
		t.Fatalf("readFrame (data): %v", err)
	}
	if typ != frameTypeData || string(payload) != "hi" {
		t.Fatalf("got type %#x payload %q", typ, payload)
	}
}
