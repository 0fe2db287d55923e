package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/h2engine"
	"github.com/roxyhq/roxy/internal/rerr"
	"github.com/roxyhq/roxy/internal/script"
	"github.com/roxyhq/roxy/internal/tlsterm"
)

// orchestrator implements the per-flow pipeline — script request
// dispatch, upstream round trip (skipped if synthesized), script
// response dispatch — independent of which protocol engine received
// the request. Every engine's per-request entry point (http1's
// keep-alive loop, h2engine.Handler, the h3 per-stream loop) funnels
// through orchestrator.handle.
type orchestrator struct {
	host        *script.Host
	term        *tlsterm.Terminator
	log         *slog.Logger
	flowTimeout time.Duration
}

// handle runs one request through the full pipeline and returns the
// response to write back, or an error the caller maps to a
// synthesized downstream status.
func (o *orchestrator) handle(ctx context.Context, req *flow.Request) (*flow.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.flowTimeout)
	defer cancel()

	fl := flow.New(req)

	o.host.DispatchRequest(ctx, fl)
	if fl.Cancelled() {
		return nil, rerr.Cancelled("flow cancelled during request phase")
	}

	if !fl.HasResponse() {
		resp, err := roundTripUpstream(ctx, o.term, fl.Request())
		if err != nil {
			return nil, err
		}
		fl.AttachUpstreamResponse(resp)
	}

	o.host.DispatchResponse(ctx, fl)
	if fl.Cancelled() {
		return nil, rerr.Cancelled("flow cancelled during response phase")
	}

	return fl.Response(), nil
}

// handleH2 adapts orchestrator.handle to h2engine.Handler, stamping
// the request's URL scheme from which listener accepted the
// connection when the decoded :scheme pseudo-header left it unset.
func (o *orchestrator) handleH2(defaultScheme string) h2engine.Handler {
	return func(ctx context.Context, req *flow.Request) (*flow.Response, error) {
		if req.URL.Protocol() == "" {
			req.URL.SetProtocol(defaultScheme)
		}
		return o.handle(ctx, req)
	}
}
