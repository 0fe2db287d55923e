package h3engine

import (
	"testing"

	"github.com/quic-go/qpack"
	"github.com/roxyhq/roxy/internal/flow"
)

func TestHeaderCodec_RequestRoundTrip(t *testing.T) {
	enc := NewHeaderCodec()
	u := flow.NewURL("https", "example.com")
	u.SetPath("/a")
	req := flow.NewRequest(flow.MethodPost, u, flow.Version3)
	req.Headers.Append("x-test", "v")

	block, err := enc.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	dec := NewHeaderCodec()
	got, err := dec.DecodeRequest(block)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.Method != flow.MethodPost {
		t.Fatalf("got method %s", got.Method)
	}
	if host, _ := got.URL.Hostname(); host != "example.com" {
		t.Fatalf("got hostname %q", host)
	}
	if v, ok := got.Headers.Get("x-test"); !ok || v != "v" {
		t.Fatalf("got header %q, %v", v, ok)
	}
}

func TestHeaderCodec_DecodeRequestMissingPseudoHeaderFails(t *testing.T) {
	// Encode a block holding only a regular field, writing through the
	// codec's QPACK encoder directly so no pseudo-headers are emitted.
	enc := NewHeaderCodec()
	if err := enc.enc.WriteField(qpack.HeaderField{Name: "x-test", Value: "v"}); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	block := append([]byte(nil), enc.buf.b...)

	if _, err := NewHeaderCodec().DecodeRequest(block); err == nil {
		t.Fatal("expected a block without pseudo-headers to be rejected")
	}
}
