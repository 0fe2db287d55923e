package supervisor

import (
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

// synthesizeErrorResponse maps a pipeline error to the synthesized
// downstream status: 400 for malformed-request-shaped
// errors, 504 for timeouts, 502 otherwise.
func synthesizeErrorResponse(err error, version flow.Version) *flow.Response {
	status := uint16(502)
	if re, ok := err.(*rerr.Error); ok {
		status = uint16(re.SynthesizedStatus())
	}
	resp := flow.NewResponse(status, version)
	resp.Body.SetText(err.Error())
	return resp
}
