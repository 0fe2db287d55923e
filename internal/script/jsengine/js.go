// Package jsengine is the goja-backed JavaScript Runtime for
// internal/script. Registers itself for ".js" files.
package jsengine

import (
	"context"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/script"
)

func init() {
	script.RegisterLanguage(".js", New)
}

// jsExtension is one entry read back from the script's own
// globalThis.extensions array: whichever of its four
// lifecycle methods are defined, captured once after evaluation so
// dispatch never has to re-walk the array.
type jsExtension struct {
	obj      *goja.Object
	start    goja.Callable
	request  goja.Callable
	response goja.Callable
	stop     goja.Callable
}

// runtime wraps one goja.Runtime for a single script file, plus the
// ordered extension list it declared.
type runtime struct {
	path       string
	vm         *goja.Runtime
	api        script.HostAPI
	extensions []*jsExtension
}

// New evaluates path's source, binds the host API, enum, and flow
// bridge globals, and reads back whatever the script assigned to
// globalThis.extensions. It does not invoke start(): a load error fails
// New itself, while start() runs in Start, where a start() that throws
// is reported through the host API's Notify and disables only that
// extension.
func New(path string, extensions []script.ExtensionInfo, api script.HostAPI) (script.Runtime, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jsengine: reading %s: %w", path, err)
	}

	vm := goja.New()
	bindHostAPI(vm, api)
	bindEnums(vm)

	if _, err := vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("jsengine: evaluating %s: %w", path, err)
	}

	r := &runtime{path: path, vm: vm, api: api}
	r.extensions = readExtensions(vm)
	return r, nil
}

// readExtensions reads back globalThis.extensions: the host discovers
// a script's behavior by reading the list the script itself assigned,
// never host-supplied metadata. A script that never sets it simply
// declares zero extensions.
func readExtensions(vm *goja.Runtime) []*jsExtension {
	val := vm.Get("extensions")
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	obj := val.ToObject(vm)
	if obj == nil {
		return nil
	}
	length := int(obj.Get("length").ToInteger())

	out := make([]*jsExtension, 0, length)
	for i := 0; i < length; i++ {
		item := obj.Get(fmt.Sprintf("%d", i))
		if item == nil || goja.IsUndefined(item) || goja.IsNull(item) {
			continue
		}
		itemObj := item.ToObject(vm)
		if itemObj == nil {
			continue
		}
		ext := &jsExtension{obj: itemObj}
		ext.start, _ = goja.AssertFunction(itemObj.Get("start"))
		ext.request, _ = goja.AssertFunction(itemObj.Get("request"))
		ext.response, _ = goja.AssertFunction(itemObj.Get("response"))
		ext.stop, _ = goja.AssertFunction(itemObj.Get("stop"))
		out = append(out, ext)
	}
	return out
}

func bindHostAPI(vm *goja.Runtime, api script.HostAPI) {
	notifyFn := func(level string, message string) {
		if api.Notify != nil {
			api.Notify(severityFromString(level), message)
		}
	}
	vm.Set("notify", notifyFn)

	roxy := vm.NewObject()
	roxy.Set("notify", notifyFn)
	vm.Set("Roxy", roxy)
	vm.Set("roxy", roxy)

	if api.WriteFile != nil {
		vm.Set("writeFile", func(path string, data string) error {
			return api.WriteFile(path, []byte(data))
		})
	}
}

func bindEnums(vm *goja.Runtime) {
	vm.Set("Method", enumObject(vm, flow.MethodEnum))
	vm.Set("Protocol", enumObject(vm, flow.ProtocolEnum))
	vm.Set("Version", enumObject(vm, flow.VersionEnum))

	status := vm.NewObject()
	for name, v := range flow.StatusEnum {
		status.Set(name, v.Value)
	}
	vm.Set("Status", status)
}

func enumObject(vm *goja.Runtime, m map[string]flow.StringEnum) *goja.Object {
	o := vm.NewObject()
	for name, v := range m {
		o.Set(name, v.Value)
	}
	return o
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
	for _, ext := range r.extensions {
		if ext.start == nil {
			continue
		}
		if _, err := ext.start(goja.Undefined()); err != nil {
			r.reportExtensionError(script.PhaseStart, err)
			ext.start, ext.request, ext.response, ext.stop = nil, nil, nil, nil
		}
	}
	return nil
}

// Stop runs each extension's stop() in the reverse of declaration
// order: the last extension to start is the first to
// stop, mirroring how the Host itself reverses across files.
func (r *runtime) Stop(ctx context.Context) error {
	for i := len(r.extensions) - 1; i >= 0; i-- {
		ext := r.extensions[i]
		if ext.stop == nil {
			continue
		}
		if _, err := ext.stop(goja.Undefined()); err != nil {
			r.reportExtensionError(script.PhaseStop, err)
		}
	}
	return nil
}

func (r *runtime) HandleRequest(ctx context.Context, f *flow.Flow) error {
	rb := script.NewResponseBinding(f, f.Request().Version)
	flowVal := bindFlow(r.vm, f, rb)
	for _, ext := range r.extensions {
		if ext.request == nil {
			continue
		}
		if _, err := ext.request(goja.Undefined(), flowVal); err != nil {
			r.reportExtensionError(script.PhaseRequest, err)
		}
	}
	return nil
}

func (r *runtime) HandleResponse(ctx context.Context, f *flow.Flow) error {
	flowVal := bindFlow(r.vm, f, nil)
	for _, ext := range r.extensions {
		if ext.response == nil {
			continue
		}
		if _, err := ext.response(goja.Undefined(), flowVal); err != nil {
			r.reportExtensionError(script.PhaseResponse, err)
		}
	}
	return nil
}

func (r *runtime) Close() error { return nil }

// reportExtensionError surfaces a single extension's handler failure
// through the notification sink without failing the whole file; a
// sibling extension in the same script still runs.
func (r *runtime) reportExtensionError(phase string, err error) {
	if r.api.Notify != nil {
		r.api.Notify(notify.SeverityError, fmt.Sprintf("%s: %s handler failed: %v", r.path, phase, err))
	}
}
