package h2engine

import (
	"bytes"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
	"golang.org/x/net/http2/hpack"
)

// Codec wraps one hpack encoder/decoder pair scoped to a single
// connection, since HPACK's dynamic table is connection-scoped. It
// covers just the header (de)serialization the engine needs; stream
// and frame multiplexing is handled by the http2.Framer at the call
// site, not duplicated here.
type Codec struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder
}

// NewCodec creates a Codec with fresh, empty HPACK dynamic tables.
func NewCodec() *Codec {
	c := &Codec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(4096, nil)
	return c
}

// DecodeRequest decodes an HPACK-encoded HEADERS frame payload into a
// flow.Request.
func (c *Codec) DecodeRequest(block []byte) (*flow.Request, error) {
	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "decoding h2 header block")
	}
	return projectRequest(fields)
}

// DecodeTrailers decodes an HPACK-encoded trailer HEADERS frame
// payload into flow.Trailers.
func (c *Codec) DecodeTrailers(block []byte) (*flow.Trailers, error) {
	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "decoding h2 trailer block")
	}
	return projectTrailers(fields), nil
}

// EncodeResponse renders resp's pseudo-headers plus regular headers as
// one HPACK-encoded block.
func (c *Codec) EncodeResponse(resp *flow.Response) ([]byte, error) {
	c.encBuf.Reset()
	for _, f := range projectResponseFields(resp) {
		if err := c.enc.WriteField(f); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedResponse, err, "encoding h2 response headers")
		}
	}
	out := append([]byte(nil), c.encBuf.Bytes()...)
	return out, nil
}

// EncodeRequest renders req for re-issuing upstream over HTTP/2.
func (c *Codec) EncodeRequest(req *flow.Request) ([]byte, error) {
	c.encBuf.Reset()
	for _, f := range projectRequestFields(req) {
		if err := c.enc.WriteField(f); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "encoding h2 request headers")
		}
	}
	out := append([]byte(nil), c.encBuf.Bytes()...)
	return out, nil
}

// EncodeTrailers renders trailers as an HPACK-encoded block, or nil if
// t is nil.
func (c *Codec) EncodeTrailers(t *flow.Trailers) ([]byte, error) {
	fields := projectTrailerFields(t)
	if fields == nil {
		return nil, nil
	}
	c.encBuf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedResponse, err, "encoding h2 trailers")
		}
	}
	out := append([]byte(nil), c.encBuf.Bytes()...)
	return out, nil
}
