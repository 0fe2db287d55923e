// Package flow implements the canonical, protocol-independent data
// model shared by every HTTP engine and the script host:
// Flow, Request, Response, URL, Headers, Body, and Trailers.
package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flow is the unit of interception: one Request and at most one
// Response. It is created when the inbound protocol engine
// has parsed the head of a request, and destroyed when the exchange
// terminates.
type Flow struct {
	ID        string
	StartedAt time.Time

	mu         sync.Mutex
	request    *Request
	response   *Response
	synthetic  bool // true once a script assigns flow.response during the request phase
	cancelled  bool
}

// New creates a Flow around a freshly parsed Request.
func New(req *Request) *Flow {
	return &Flow{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		request:   req,
	}
}

// Request returns the flow's request. Never nil for a live flow:
// every Flow has exactly one Request.
func (f *Flow) Request() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.request
}

// Response returns the flow's response, or nil if none is attached yet.
func (f *Flow) Response() *Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response
}

// HasResponse reports whether a Response exists: one does iff either
// upstream completed or a script synthesized it.
func (f *Flow) HasResponse() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response != nil
}

// AttachUpstreamResponse sets the response after a real upstream reply.
// Never marks the flow as synthesized.
func (f *Flow) AttachUpstreamResponse(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = resp
}

// SynthesizeResponse is called when a script assigns flow.response.*
// during the request phase. It marks the flow so the
// engine knows to skip the upstream call.
func (f *Flow) SynthesizeResponse(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = resp
	f.synthetic = true
}

// IsSynthesized reports whether the current response was produced by a
// script rather than upstream.
func (f *Flow) IsSynthesized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synthetic
}

// Cancel marks the flow cancelled. A cancelled flow never invokes the
// response phase and unwinds silently.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

// Cancelled reports whether Cancel was called.
func (f *Flow) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// CloneForScript returns a deep copy of the flow's request/response
// state, suitable for moving onto a script executor's queue by
// exclusive ownership. Handing the executor its own copy removes all
// cross-language locking concerns.
func (f *Flow) CloneForScript() *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Flow{
		ID:        f.ID,
		StartedAt: f.StartedAt,
		request:   f.request.Clone(),
		response:  f.response.Clone(),
		synthetic: f.synthetic,
		cancelled: f.cancelled,
	}
}

// AdoptFromScript copies the (possibly mutated) request/response state
// back from a script-executor clone into the live flow, completing the
// ownership round trip.
func (f *Flow) AdoptFromScript(clone *Flow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.request = clone.request
	if clone.response != nil {
		f.response = clone.response
		f.synthetic = clone.synthetic
	}
	if clone.cancelled {
		f.cancelled = true
	}
}
