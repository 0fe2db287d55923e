// Package rerr defines the flow-level error taxonomy shared by every
// protocol engine and the script host.
//
// Errors are typed so callers can discriminate with errors.As, and
// each carries the context its handling policy needs:
// a malformed request knows nothing about extensions, but a script
// handler failure must carry the offending extension's index and phase.
package rerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a proxy error.
type Kind string

const (
	KindMalformedRequest     Kind = "malformed_request"
	KindMalformedResponse    Kind = "malformed_response"
	KindUpstreamUnreachable  Kind = "upstream_unreachable"
	KindTLSHandshakeFailed   Kind = "tls_handshake_failed"
	KindCAInitFailed         Kind = "ca_init_failed"
	KindScriptLoadFailed     Kind = "script_load_failed"
	KindScriptHandlerFailed  Kind = "script_handler_failed"
	KindScriptHandlerTimeout Kind = "script_handler_timeout"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindClientTimeout        Kind = "client_timeout"
	KindCancelled            Kind = "cancelled"
	KindResourceExhausted    Kind = "resource_exhausted"
)

// Error is the typed error carried through the proxy pipeline.
type Error struct {
	Kind    Kind
	Message string
	// Phase is "request" or "response", set only for script errors.
	Phase string
	// ExtIndex is the offending extension's position in load order,
	// set only for script errors.
	ExtIndex int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, rerr.New(KindCancelled, "")) style checks work without
// comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds a plain Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ScriptFailed builds a handler-failure error carrying the offending
// extension index and phase.
func ScriptFailed(phase string, extIndex int, err error) *Error {
	return &Error{
		Kind:     KindScriptHandlerFailed,
		Message:  fmt.Sprintf("extension %d failed during %s", extIndex, phase),
		Phase:    phase,
		ExtIndex: extIndex,
		Err:      err,
	}
}

// ScriptTimeout builds the handler-timeout shape.
func ScriptTimeout(phase string, extIndex int) *Error {
	return &Error{
		Kind:     KindScriptHandlerTimeout,
		Message:  fmt.Sprintf("extension %d timed out during %s", extIndex, phase),
		Phase:    phase,
		ExtIndex: extIndex,
	}
}

// IsCancelled reports whether err represents cancellation — either our
// own sentinel or a context cancellation, so callers that must unwind
// silently on cancellation need not check both forms everywhere.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Cancelled returns a new Cancelled-kind error.
func Cancelled(msg string) *Error {
	return &Error{Kind: KindCancelled, Message: msg}
}

// TerminatesConnection reports whether an error of this kind must
// terminate the whole connection rather than just the one flow (only
// a TLS handshake failure does).
func (e *Error) TerminatesConnection() bool {
	return e.Kind == KindTLSHandshakeFailed
}

// SynthesizedStatus maps a per-flow error kind to the 400/502/504
// status synthesized downstream when the flow is terminated.
func (e *Error) SynthesizedStatus() int {
	switch e.Kind {
	case KindMalformedRequest:
		return 400
	case KindUpstreamUnreachable:
		return 502
	case KindUpstreamTimeout, KindClientTimeout:
		return 504
	default:
		return 502
	}
}
