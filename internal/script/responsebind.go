package script

import "github.com/roxyhq/roxy/internal/flow"

// ResponseBinding centralizes the one rule every language engine needs
// for flow.response during the request phase:
// the script always sees a live response object to read and write, but
// only a *write* to one of its fields actually attaches it to the flow
// and marks it synthesized — a script that merely reads flow.response
// without mutating anything must not cause the upstream call to be
// skipped.
type ResponseBinding struct {
	flow    *flow.Flow
	pending *flow.Response
}

// NewResponseBinding wraps f's existing response if one is already
// attached (response phase, or a request-phase script that already
// synthesized one), otherwise stages a fresh empty Response that is
// only attached on first write.
func NewResponseBinding(f *flow.Flow, fallbackVersion flow.Version) *ResponseBinding {
	if existing := f.Response(); existing != nil {
		return &ResponseBinding{flow: f, pending: existing}
	}
	return &ResponseBinding{flow: f, pending: flow.NewResponse(0, fallbackVersion)}
}

// Response returns the staged or attached Response. Engines bind
// getters/setters directly against the fields of the returned value.
func (b *ResponseBinding) Response() *flow.Response { return b.pending }

// MarkWritten attaches the pending Response to the flow as synthesized,
// if it isn't already attached. Engines call this from every setter
// reachable under flow.response (status, headers, body, trailers).
func (b *ResponseBinding) MarkWritten() {
	if b.flow.Response() == nil {
		b.flow.SynthesizeResponse(b.pending)
	}
}
