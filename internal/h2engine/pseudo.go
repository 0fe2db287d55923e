// Package h2engine implements the HTTP/2 Engine: stream
// multiplexing atop golang.org/x/net/http2, translating HEADERS/DATA
// frames to and from internal/flow's protocol-independent Flow model,
// including pseudo-header projection and trailers.
package h2engine

import (
	"strconv"
	"strings"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
	"golang.org/x/net/http2/hpack"
)

// pseudo-header names per RFC 9113 §8.3.
const (
	pseudoMethod    = ":method"
	pseudoScheme    = ":scheme"
	pseudoAuthority = ":authority"
	pseudoPath      = ":path"
	pseudoStatus    = ":status"
)

// projectRequest builds a flow.Request from a decoded HEADERS field
// list, stripping pseudo-headers into their structured request
// components.
func projectRequest(fields []hpack.HeaderField) (*flow.Request, error) {
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
				return nil, rerr.New(rerr.KindMalformedRequest, "unknown pseudo-header %q", f.Name)
			}
			headers.Append(f.Name, f.Value)
		}
	}

	if method == "" || scheme == "" || authority == "" || path == "" {
		return nil, rerr.New(rerr.KindMalformedRequest, "missing required h2 pseudo-header")
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

	req := flow.NewRequest(flow.Method(strings.ToUpper(method)), u, flow.Version2)
	req.Headers = headers
	return req, nil
}

// projectResponseFields renders resp as an HPACK field list, with
// :status synthesized from resp.Status ahead of the regular headers.
func projectResponseFields(resp *flow.Response) []hpack.HeaderField {
	fields := []hpack.HeaderField{
		{Name: pseudoStatus, Value: strconv.Itoa(int(resp.Status))},
	}
	for _, pair := range resp.Headers.Items(true) {
		fields = append(fields, hpack.HeaderField{Name: strings.ToLower(pair.Name), Value: pair.Value})
	}
	return fields
}

// projectRequestFields renders req as an HPACK field list for
// re-issuing upstream over HTTP/2.
func projectRequestFields(req *flow.Request) []hpack.HeaderField {
	authority := req.URL.Host()
	fields := []hpack.HeaderField{
		{Name: pseudoMethod, Value: string(req.Method)},
		{Name: pseudoScheme, Value: req.URL.Protocol()},
		{Name: pseudoAuthority, Value: authority},
		{Name: pseudoPath, Value: requestPath(req)},
	}
	for _, pair := range req.Headers.Items(true) {
		fields = append(fields, hpack.HeaderField{Name: strings.ToLower(pair.Name), Value: pair.Value})
	}
	return fields
}

func requestPath(req *flow.Request) string {
	path, ok := req.URL.Path()
	if !ok || path == "" {
		path = "/"
	}
	params := req.URL.SearchParams()
	if len(params) == 0 {
		return path
	}
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
	return b.String()
}

// projectTrailerFields renders trailers as a bare HPACK field list
// (trailers carry no pseudo-headers).
func projectTrailerFields(t *flow.Trailers) []hpack.HeaderField {
	if t == nil {
		return nil
	}
	var fields []hpack.HeaderField
	for _, pair := range t.Items(true) {
		fields = append(fields, hpack.HeaderField{Name: strings.ToLower(pair.Name), Value: pair.Value})
	}
	return fields
}

// projectTrailers builds a flow.Trailers from a decoded trailer field
// list.
func projectTrailers(fields []hpack.HeaderField) *flow.Trailers {
	if len(fields) == 0 {
		return nil
	}
	t := flow.NewTrailers()
	for _, f := range fields {
		t.Append(f.Name, f.Value)
	}
	return t
}
