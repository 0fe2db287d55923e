// Package pyengine is the gpython-backed Python Runtime for
// internal/script. Registers itself for ".py" files.
//
// gpython exposes no generic Go-struct-to-Python bridge the way goja
// does for JavaScript, so the flow.* object graph is built
// instead as a small amount of real Python, run once per interpreter
// ahead of the user's script (see prelude.go). That prelude defines
// plain classes with property(fget, fset) accessors; every
// property/method body simply forwards to a host-bound function
// captured over the specific *flow.* pointer it wraps
// (buildHeaders/buildBody/buildURL/... in bind.go), using only
// py.MustNewMethod/py.Call — the same primitives
// bindHostAPI already used for notify/writeFile.
package pyengine

import (
	"context"
	"fmt"
	"os"

	"github.com/go-python/gpython/py"
	_ "github.com/go-python/gpython/stdlib"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/script"
)

func init() {
	script.RegisterLanguage(".py", New)
}

type runtime struct {
	path       string
	globals    py.StringDict
	pyCtx      py.Context
	api        script.HostAPI
	extensions []py.Object
	dispatch   py.Object // prelude's _dispatch(ext, phase, *args) helper
	classes    *classes
}

// New runs the prelude module body, then path's own module body, into
// one shared module, and reads back whatever the script assigned to
// the global Extensions name.
func New(path string, extensions []script.ExtensionInfo, api script.HostAPI) (script.Runtime, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pyengine: reading %s: %w", path, err)
	}

	pyCtx := py.NewContext(py.DefaultContextOpts())

	mod, err := py.RunSrc(pyCtx, preludeSource, "<roxy-prelude>", nil)
	if err != nil {
		return nil, fmt.Errorf("pyengine: evaluating prelude: %w", err)
	}
	globals := mod.Globals

	bindHostAPI(globals, api)

	dispatch := globals["_dispatch"]
	cls := loadClasses(globals)

	if _, err := py.RunSrc(pyCtx, string(src), path, mod); err != nil {
		return nil, fmt.Errorf("pyengine: evaluating %s: %w", path, err)
	}

	r := &runtime{path: path, globals: globals, pyCtx: pyCtx, api: api, dispatch: dispatch, classes: cls}
	r.extensions = readExtensions(globals)
	return r, nil
}

// readExtensions reads back the global Extensions list the script
// itself set, not host-supplied metadata — a script
// that never sets it declares zero extensions.
func readExtensions(globals py.StringDict) []py.Object {
	val, ok := globals["Extensions"]
	if !ok {
		return nil
	}
	list, ok := val.(*py.List)
	if !ok {
		return nil
	}
	return append([]py.Object(nil), list.Items...)
}

func bindHostAPI(globals py.StringDict, api script.HostAPI) {
	globals["notify"] = py.MustNewMethod("notify", func(self py.Object, args py.Tuple) (py.Object, error) {
		if len(args) < 2 {
			return py.None, nil
		}
		level, _ := args[0].(py.String)
		message, _ := args[1].(py.String)
		if api.Notify != nil {
			api.Notify(severityFromString(string(level)), string(message))
		}
		return py.None, nil
	}, 0, "notify(level, message)")

	if api.WriteFile != nil {
		globals["writeFile"] = py.MustNewMethod("writeFile", func(self py.Object, args py.Tuple) (py.Object, error) {
			if len(args) < 2 {
				return py.None, nil
			}
			path, _ := args[0].(py.String)
			data, _ := args[1].(py.String)
			if err := api.WriteFile(string(path), []byte(data)); err != nil {
				return py.None, err
			}
			return py.None, nil
		}, 0, "writeFile(path, data)")
	}
}

func severityFromString(level string) notify.Severity {
	switch level {
	case "trace":
		return notify.SeverityTrace
	case "debug":
		return notify.SeverityDebug
	case "warning", "warn":
		return notify.SeverityWarning
	case "error":
		return notify.SeverityError
	default:
		return notify.SeverityInfo
	}
}

func (r *runtime) Start(ctx context.Context) error {
	live := r.extensions[:0]
	for _, ext := range r.extensions {
		if err := r.callPhase(ext, script.PhaseStart); err != nil {
			r.reportExtensionError(script.PhaseStart, err)
			continue
		}
		live = append(live, ext)
	}
	r.extensions = live
	return nil
}

// Stop runs each extension's stop() in the reverse of declaration
// order, mirroring how the Host itself reverses order
// across files.
func (r *runtime) Stop(ctx context.Context) error {
	for i := len(r.extensions) - 1; i >= 0; i-- {
		if err := r.callPhase(r.extensions[i], script.PhaseStop); err != nil {
			r.reportExtensionError(script.PhaseStop, err)
		}
	}
	return nil
}

func (r *runtime) HandleRequest(ctx context.Context, f *flow.Flow) error {
	rb := script.NewResponseBinding(f, f.Request().Version)
	flowObj, err := buildFlow(r.pyCtx, r.classes, f, rb)
	if err != nil {
		r.reportExtensionError(script.PhaseRequest, err)
		return nil
	}
	for _, ext := range r.extensions {
		if err := r.callPhase(ext, script.PhaseRequest, flowObj); err != nil {
			r.reportExtensionError(script.PhaseRequest, err)
		}
	}
	return nil
}

func (r *runtime) HandleResponse(ctx context.Context, f *flow.Flow) error {
	flowObj, err := buildFlow(r.pyCtx, r.classes, f, nil)
	if err != nil {
		r.reportExtensionError(script.PhaseResponse, err)
		return nil
	}
	for _, ext := range r.extensions {
		if err := r.callPhase(ext, script.PhaseResponse, flowObj); err != nil {
			r.reportExtensionError(script.PhaseResponse, err)
		}
	}
	return nil
}

func (r *runtime) Close() error { return nil }

// callPhase invokes the prelude's _dispatch(ext, phase, *args) helper,
// which does getattr(ext, phase, None) and calls it if present — this
// is how a single extension object's optional start/request/response/
// stop method is looked up without any Go-side attribute-introspection
// API beyond py.Call.
func (r *runtime) callPhase(ext py.Object, phase string, args ...py.Object) error {
	if r.dispatch == nil {
		return nil
	}
	callArgs := py.Tuple{ext, py.String(phase)}
	callArgs = append(callArgs, args...)
	_, err := py.Call(r.pyCtx, r.dispatch, callArgs, nil)
	return err
}

func (r *runtime) reportExtensionError(phase string, err error) {
	if r.api.Notify != nil {
		r.api.Notify(notify.SeverityError, fmt.Sprintf("%s: %s handler failed: %v", r.path, phase, err))
	}
}
