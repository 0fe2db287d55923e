package http1

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"strings"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

// wsMagicGUID is RFC 6455 §1.3's fixed handshake GUID.
const wsMagicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ReadRequest parses a full HTTP/1.1 request head plus body from r
// into a flow.Request. defaultScheme ("http" or "https") fills the
// resulting URL's scheme for origin-form targets, matching which
// listener accepted the connection.
func ReadRequest(r *bufio.Reader, defaultScheme string) (*flow.Request, error) {
	headBudget := MaxHeadBytes

	method, target, version, err := readRequestLine(r, &headBudget)
	if err != nil {
		return nil, err
	}
	headers, err := readHeaderBlock(r, &headBudget)
	if err != nil {
		return nil, err
	}

	u, err := requestURL(defaultScheme, target, headers)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "resolving request target %q", target)
	}

	req := flow.NewRequest(flow.Method(strings.ToUpper(method)), u, parseVersion(version))
	req.Headers = headers

	if method != string(flow.MethodConnect) {
		body, err := readBody(r, headers)
		if err != nil {
			return nil, err
		}
		req.Body.SetBytes(body)
	}

	return req, nil
}

// WriteRequest serializes req to w in raw wire form.
func WriteRequest(w io.Writer, req *flow.Request) error {
	_, err := w.Write(serializeRequest(req))
	return err
}

// ReadResponse parses a full HTTP/1.1 response head plus body from r.
func ReadResponse(r *bufio.Reader) (*flow.Response, error) {
	headBudget := MaxHeadBytes

	version, status, _, err := readStatusLine(r, &headBudget)
	if err != nil {
		return nil, err
	}
	headers, err := readHeaderBlock(r, &headBudget)
	if err != nil {
		return nil, err
	}

	resp := flow.NewResponse(uint16(status), parseVersion(version))
	resp.Headers = headers

	body, err := readBody(r, headers)
	if err != nil {
		return nil, err
	}
	resp.Body.SetBytes(body)

	return resp, nil
}

// WriteResponse serializes resp to w in raw wire form.
func WriteResponse(w io.Writer, resp *flow.Response) error {
	_, err := w.Write(serializeResponse(resp))
	return err
}

// requestURL resolves target (either absolute-form, as proxy requests
// send, or origin-form, relying on the Host header) into a flow.URL.
// CONNECT's authority-form target is resolved separately.
func requestURL(defaultScheme, target string, headers *flow.Headers) (*flow.URL, error) {
	if strings.Contains(target, "://") {
		return flow.ParseURL(target)
	}

	host, hasHost := headers.Get("Host")
	if strings.Contains(target, ":") && !strings.HasPrefix(target, "/") {
		// CONNECT authority-form target: "host:port".
		host = target
		hasHost = true
	}
	if !hasHost {
		return nil, rerr.New(rerr.KindMalformedRequest, "request has no Host header and no absolute-form target")
	}

	hostname, port := host, ""
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		hostname, port = host[:idx], host[idx+1:]
	}

	u := flow.NewURL(defaultScheme, hostname)
	if port != "" {
		u.SetPort(port)
	}
	if strings.HasPrefix(target, "/") {
		path := target
		if q := strings.IndexByte(target, '?'); q >= 0 {
			path = target[:q]
			for _, kv := range strings.Split(target[q+1:], "&") {
				if kv == "" {
					continue
				}
				if eq := strings.IndexByte(kv, '='); eq >= 0 {
					u.AppendSearchParam(kv[:eq], kv[eq+1:])
				} else {
					u.AppendSearchParam(kv, "")
				}
			}
		}
		u.SetPath(path)
	}
	return u, nil
}

// parseVersion maps a wire version string ("HTTP/1.1") to the
// canonical flow.Version ("1.1").
func parseVersion(wire string) flow.Version {
	switch wire {
	case "HTTP/0.9":
		return flow.VersionHTTP09
	case "HTTP/1.0":
		return flow.Version10
	case "HTTP/2", "HTTP/2.0":
		return flow.Version2
	case "HTTP/3":
		return flow.Version3
	default:
		return flow.Version11
	}
}

// IsWebSocketUpgrade reports whether req is an RFC 6455 upgrade
// request.
func IsWebSocketUpgrade(req *flow.Request) bool {
	conn, _ := req.Headers.Get("Connection")
	upgrade, _ := req.Headers.Get("Upgrade")
	key, hasKey := req.Headers.Get("Sec-WebSocket-Key")
	return strings.Contains(strings.ToLower(conn), "upgrade") &&
		strings.EqualFold(upgrade, "websocket") &&
		hasKey && key != ""
}

// WebSocketAccept computes the Sec-WebSocket-Accept value for the
// given Sec-WebSocket-Key per RFC 6455 §1.3.
func WebSocketAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(wsMagicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
