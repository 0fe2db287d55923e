// Package http1 implements the HTTP/1.1 Engine: bounded
// head parsing, CONNECT tunnel handling, WebSocket upgrade handoff,
// and translation between the wire format and internal/flow's
// protocol-independent Flow model.
package http1

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

// Hard limits on a parsed message head.
const (
	MaxHeadBytes = 64 * 1024
	MaxHeaderCnt = 100
)

// hopByHopHeaders lists headers stripped before forwarding: the
// RFC 9112 §9.1 connection-scoped set plus whatever the Connection
// header itself names.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// readRequestLine reads and parses "METHOD SP target SP version CRLF"
// from r, enforcing the 64KiB head cap across the whole head (request
// line + headers) via headBudget.
func readRequestLine(r *bufio.Reader, headBudget *int) (method, target, version string, err error) {
	line, err := readLimitedLine(r, headBudget)
	if err != nil {
		return "", "", "", err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", rerr.New(rerr.KindMalformedRequest, "malformed request line %q", line)
	}
	return parts[0], parts[1], parts[2], nil
}

// readStatusLine reads and parses "HTTP/x.y SP status SP reason CRLF".
func readStatusLine(r *bufio.Reader, headBudget *int) (version string, status int, reason string, err error) {
	line, err := readLimitedLine(r, headBudget)
	if err != nil {
		return "", 0, "", err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", rerr.New(rerr.KindMalformedResponse, "malformed status line %q", line)
	}
	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, "", rerr.New(rerr.KindMalformedResponse, "malformed status code %q", parts[1])
	}
	reasonPhrase := ""
	if len(parts) == 3 {
		reasonPhrase = parts[2]
	}
	return parts[0], code, reasonPhrase, nil
}

// readHeaderBlock reads header fields up to the first blank line,
// preserving field order and raw case, and returns them as one Headers.
func readHeaderBlock(r *bufio.Reader, headBudget *int) (*flow.Headers, error) {
	h := flow.NewHeaders()
	count := 0
	for {
		line, err := readLimitedLine(r, headBudget)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		count++
		if count > MaxHeaderCnt {
			return nil, rerr.New(rerr.KindResourceExhausted, "header field count exceeds %d", MaxHeaderCnt)
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, rerr.New(rerr.KindMalformedRequest, "malformed header field %q", line)
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		h.Append(name, value)
	}
}

// readLimitedLine reads one CRLF-terminated line, decrementing
// headBudget and failing with ResourceExhausted once the 64KiB head
// cap is exceeded, reporting the cap as a human-readable size.
func readLimitedLine(r *bufio.Reader, headBudget *int) (string, error) {
	raw, err := r.ReadString('\n')
	if err != nil {
		return "", rerr.Wrap(rerr.KindMalformedRequest, err, "reading head line")
	}
	*headBudget -= len(raw)
	if *headBudget < 0 {
		return "", rerr.New(rerr.KindResourceExhausted, "request head exceeds %s", humanize.IBytes(MaxHeadBytes))
	}
	return strings.TrimRight(raw, "\r\n"), nil
}

// readBody reads a fixed-length or chunked body per headers, returning
// nil bytes for bodies with neither Content-Length nor
// Transfer-Encoding: chunked.
func readBody(r *bufio.Reader, h *flow.Headers) ([]byte, error) {
	if te, ok := h.Get("Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		return readChunkedBody(r)
	}
	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, rerr.New(rerr.KindMalformedRequest, "malformed content-length %q", cl)
		}
		if n == 0 {
			return nil, nil
		}
		buf := make([]byte, n)
		if _, err := readFull(r, buf); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading body of length %d", n)
		}
		return buf, nil
	}
	return nil, nil
}

func readChunkedBody(r *bufio.Reader) ([]byte, error) {
	var out bytes.Buffer
	budget := MaxHeadBytes * 16 // generous chunked-body cap to bound memory
	for {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading chunk size")
		}
		sizeLine = strings.TrimRight(strings.SplitN(sizeLine, ";", 2)[0], "\r\n")
		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil || size < 0 {
			return nil, rerr.New(rerr.KindMalformedRequest, "malformed chunk size %q", sizeLine)
		}
		if size == 0 {
			// Trailing CRLF after the terminal zero-size chunk; any
			// trailer fields are silently dropped.
			if _, err := r.ReadString('\n'); err != nil {
				return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading chunked trailer")
			}
			return out.Bytes(), nil
		}
		budget -= int(size)
		if budget < 0 {
			return nil, rerr.New(rerr.KindResourceExhausted, "chunked body exceeds internal cap")
		}
		buf := make([]byte, size)
		if _, err := readFull(r, buf); err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading chunk data")
		}
		out.Write(buf)
		if _, err := r.ReadString('\n'); err != nil { // trailing CRLF after chunk data
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading chunk terminator")
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// serializeRequest renders req as a raw HTTP/1.1 request, preserving
// header field order and case and stripping hop-by-hop headers.
func serializeRequest(req *flow.Request) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, requestTarget(req), wireVersion(req.Version))
	wire := headersForWire(req.Headers, req.Body)
	if !wire.Has("Host") {
		wire.Insert(0, "Host", req.URL.Host())
	}
	writeHeaders(&buf, wire)
	buf.WriteString("\r\n")
	buf.Write(req.Body.Bytes())
	return buf.Bytes()
}

// serializeResponse renders resp as a raw HTTP/1.1 response.
func serializeResponse(resp *flow.Response) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", wireVersion(resp.Version), resp.Status, statusReason(resp.Status))
	writeHeaders(&buf, headersForWire(resp.Headers, resp.Body))
	buf.WriteString("\r\n")
	buf.Write(resp.Body.Bytes())
	return buf.Bytes()
}

// headersForWire clones h and recomputes Content-Length to match
// body's actual byte length. A script handler is free to rewrite
// body.text to something a different length than what arrived on the
// wire; since Transfer-Encoding is already
// stripped as hop-by-hop, the only correct framing left is a
// Content-Length computed from the materialized body just before
// serialization.
func headersForWire(h *flow.Headers, body *flow.Body) *flow.Headers {
	out := h.Clone()
	_, hadLength := h.Get("Content-Length")
	_, hadChunked := h.Get("Transfer-Encoding")
	if hadLength || hadChunked || body.Length() > 0 {
		out.Set("Content-Length", strconv.Itoa(body.Length()))
	}
	return out
}

// wireVersion renders a flow.Version (e.g. "1.1") as its wire form
// ("HTTP/1.1"); flow.VersionHTTP09 is already in wire form.
func wireVersion(v flow.Version) string {
	s := string(v)
	if strings.HasPrefix(s, "HTTP/") {
		return s
	}
	return "HTTP/" + s
}

func writeHeaders(buf *bytes.Buffer, h *flow.Headers) {
	named := map[string]bool{}
	for _, v := range h.GetAll("Connection") {
		for _, tok := range strings.Split(v, ",") {
			named[strings.ToLower(strings.TrimSpace(tok))] = true
		}
	}
	for _, pair := range h.Items(true) {
		name := strings.ToLower(pair.Name)
		if hopByHopHeaders[name] || named[name] {
			continue
		}
		fmt.Fprintf(buf, "%s: %s\r\n", pair.Name, pair.Value)
	}
}

// requestTarget renders the request target in origin-form (the request
// is re-issued to the origin itself, never to a further proxy), or
// authority-form for CONNECT.
func requestTarget(req *flow.Request) string {
	if req.Method == flow.MethodConnect {
		return req.URL.Authority()
	}
	return req.URL.PathAndQuery()
}

func statusReason(status uint16) string {
	if reason, ok := statusReasons[status]; ok {
		return reason
	}
	return "Unknown"
}

var statusReasons = map[uint16]string{
	200: "OK", 201: "Created", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	500: "Internal Server Error", 502: "Bad Gateway", 503: "Service Unavailable", 504: "Gateway Timeout",
}
