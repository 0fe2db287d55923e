// Package h3engine implements the HTTP/3 Engine: a QUIC
// listener on a dedicated UDP port, mapping QUIC streams to
// internal/flow's Flow model via QPACK-decoded headers, mirroring
// internal/h2engine's pseudo-header projection since RFC 9114 reuses
// HTTP/2's pseudo-header scheme verbatim.
package h3engine

import (
	"strconv"
	"strings"

	"github.com/quic-go/qpack"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

const (
	pseudoMethod    = ":method"
	pseudoScheme    = ":scheme"
	pseudoAuthority = ":authority"
	pseudoPath      = ":path"
	pseudoStatus    = ":status"
)

// HeaderCodec wraps a QPACK encoder/decoder pair scoped to one QUIC
// connection (qpack, unlike hpack, allows encoder/decoder streams for
// out-of-order dynamic table updates, but roxy runs QPACK in
// zero-dynamic-table mode for simplicity, matching a static-table-only
// deployment many HTTP/3 intermediaries use).
type HeaderCodec struct {
	enc *qpack.Encoder
	buf *headerBuf
	dec *qpack.Decoder
}

type headerBuf struct{ b []byte }

func (h *headerBuf) Write(p []byte) (int, error) {
	h.b = append(h.b, p...)
	return len(p), nil
}

// NewHeaderCodec creates a HeaderCodec.
func NewHeaderCodec() *HeaderCodec {
	buf := &headerBuf{}
	c := &HeaderCodec{buf: buf}
	c.enc = qpack.NewEncoder(buf)
	c.dec = qpack.NewDecoder(nil)
	return c
}

// DecodeRequest decodes a QPACK-encoded HEADERS frame payload into a
// flow.Request.
func (c *HeaderCodec) DecodeRequest(block []byte) (*flow.Request, error) {
	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "decoding h3 header block")
	}

	var method, scheme, authority, path string
	headers := flow.NewHeaders()
	for _, f := range fields {
		switch f.Name {
		case pseudoMethod:
			method = f.Value
		case pseudoScheme:
			scheme = f.Value
		case pseudoAuthority:
			authority = f.Value
		case pseudoPath:
			path = f.Value
		default:
			if strings.HasPrefix(f.Name, ":") {
				return nil, rerr.New(rerr.KindMalformedRequest, "unknown h3 pseudo-header %q", f.Name)
			}
			headers.Append(f.Name, f.Value)
		}
	}
	if method == "" || scheme == "" || authority == "" || path == "" {
		return nil, rerr.New(rerr.KindMalformedRequest, "missing required h3 pseudo-header")
	}

	hostname, port := authority, ""
	if idx := strings.LastIndex(authority, ":"); idx >= 0 {
		hostname, port = authority[:idx], authority[idx+1:]
	}
	u := flow.NewURL(scheme, hostname)
	if port != "" {
		u.SetPort(port)
	}
	if q := strings.IndexByte(path, '?'); q >= 0 {
		u.SetPath(path[:q])
		for _, kv := range strings.Split(path[q+1:], "&") {
			if kv == "" {
				continue
			}
			if eq := strings.IndexByte(kv, '='); eq >= 0 {
				u.AppendSearchParam(kv[:eq], kv[eq+1:])
			} else {
				u.AppendSearchParam(kv, "")
			}
		}
	} else {
		u.SetPath(path)
	}

	req := flow.NewRequest(flow.Method(strings.ToUpper(method)), u, flow.Version3)
	req.Headers = headers
	return req, nil
}

// EncodeResponse renders resp as a QPACK-encoded field block.
func (c *HeaderCodec) EncodeResponse(resp *flow.Response) ([]byte, error) {
	c.buf.b = c.buf.b[:0]
	if err := c.enc.WriteField(qpack.HeaderField{Name: pseudoStatus, Value: strconv.Itoa(int(resp.Status))}); err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedResponse, err, "encoding h3 :status")
	}
	for _, pair := range resp.Headers.Items(true) {
		if err := c.enc.WriteField(qpack.HeaderField{Name: strings.ToLower(pair.Name), Value: pair.Value}); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedResponse, err, "encoding h3 response headers")
		}
	}
	out := append([]byte(nil), c.buf.b...)
	return out, nil
}

// EncodeRequest renders req for re-issuing upstream over HTTP/3.
func (c *HeaderCodec) EncodeRequest(req *flow.Request) ([]byte, error) {
	c.buf.b = c.buf.b[:0]
	authority := req.URL.Host()
	path, ok := req.URL.Path()
	if !ok || path == "" {
		path = "/"
	}
	if params := req.URL.SearchParams(); len(params) > 0 {
		var b strings.Builder
		b.WriteString(path)
		b.WriteByte('?')
		for i, p := range params {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
		path = b.String()
	}

	fields := []qpack.HeaderField{
		{Name: pseudoMethod, Value: string(req.Method)},
		{Name: pseudoScheme, Value: req.URL.Protocol()},
		{Name: pseudoAuthority, Value: authority},
		{Name: pseudoPath, Value: path},
	}
	for _, pair := range req.Headers.Items(true) {
		fields = append(fields, qpack.HeaderField{Name: strings.ToLower(pair.Name), Value: pair.Value})
	}
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "encoding h3 request headers")
		}
	}
	out := append([]byte(nil), c.buf.b...)
	return out, nil
}
