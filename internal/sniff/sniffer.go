// Package sniff implements the Protocol Sniffer: a small,
// pure classifier that peeks at the first bytes of a connection to
// decide which protocol engine should own it.
//
// Priority order, first match wins:
//  1. HTTP/2 connection preface ("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
//  2. TLS record (leading byte 0x16, handshake content type)
//  3. HTTP/1.x request (a known method token followed by SP; the rest
//     of the request line is not checked)
//  4. Opaque passthrough (anything else)
package sniff

import (
	"bufio"
)

// Protocol is the classifier's verdict.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolHTTP2Preface
	ProtocolTLS
	ProtocolHTTP1
	ProtocolOpaque
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP2Preface:
		return "http2-preface"
	case ProtocolTLS:
		return "tls"
	case ProtocolHTTP1:
		return "http1"
	case ProtocolOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// peekWindow caps how far the classifier looks: never more than 24
// bytes, the length of the HTTP/2 preface.
const peekWindow = 24

const http2Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// httpMethods is every method the HTTP/1 branch recognizes as the
// start of a request line, mirrored from internal/flow/enum.go so the
// sniffer and the engine never disagree.
var httpMethods = []string{
	"GET ", "HEAD ", "POST ", "PUT ", "DELETE ",
	"CONNECT ", "OPTIONS ", "TRACE ", "PATCH ",
}

// Classify peeks at r without consuming any bytes and returns the
// detected protocol. r must support at least peekWindow bytes of
// peek-ahead (bufio.NewReaderSize with a size >= 24 guarantees this).
//
// A short read (connection closed mid-preamble) still yields whatever
// bytes Peek buffered, so classification proceeds best-effort on the
// partial slice; the peek error is returned alongside the verdict and
// the caller decides whether a classified-but-truncated stream is
// worth handling.
func Classify(r *bufio.Reader) (Protocol, error) {
	peek, peekErr := r.Peek(peekWindow)
	if len(peek) == 0 {
		return ProtocolUnknown, peekErr
	}

	if len(peek) >= len(http2Preface) && string(peek[:len(http2Preface)]) == http2Preface {
		return ProtocolHTTP2Preface, peekErr
	}

	if peek[0] == 0x16 {
		return ProtocolTLS, peekErr
	}

	for _, m := range httpMethods {
		if len(peek) >= len(m) && string(peek[:len(m)]) == m {
			return ProtocolHTTP1, peekErr
		}
	}

	return ProtocolOpaque, peekErr
}
