// Package luaengine is the gopher-lua-backed Lua Runtime for
// internal/script. Registers itself for ".lua" files.
package luaengine

import (
	"context"
	"fmt"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/script"
	lua "github.com/yuin/gopher-lua"
)

func init() {
	script.RegisterLanguage(".lua", New)
}

// luaExtension is one entry read back from the script's own global
// Extensions table: a plain table whose start/request/
// response/stop fields (if present) are functions taking no self.
type luaExtension struct {
	start, request, response, stop *lua.LFunction
}

type runtime struct {
	path       string
	L          *lua.LState
	api        script.HostAPI
	extensions []*luaExtension
}

// New loads and runs path's chunk, binding the host API and enum
// globals first so top-level script code can already see them, then
// reads back whatever the script assigned to the global Extensions
// table.
func New(path string, extensions []script.ExtensionInfo, api script.HostAPI) (script.Runtime, error) {
	L := lua.NewState()

	r := &runtime{path: path, L: L, api: api}
	r.bindHostAPI()
	r.bindEnums()

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("luaengine: evaluating %s: %w", path, err)
	}

	r.extensions = readExtensions(L)
	return r, nil
}

// readExtensions reads back the global Extensions table the script
// itself set, not host-supplied metadata — a script that never sets it
// declares zero extensions.
func readExtensions(L *lua.LState) []*luaExtension {
	val := L.GetGlobal("Extensions")
	t, ok := val.(*lua.LTable)
	if !ok {
		return nil
	}

	out := make([]*luaExtension, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		entryVal := t.RawGetInt(i)
		entry, ok := entryVal.(*lua.LTable)
		if !ok {
			continue
		}
		ext := &luaExtension{}
		ext.start, _ = entry.RawGetString("start").(*lua.LFunction)
		ext.request, _ = entry.RawGetString("request").(*lua.LFunction)
		ext.response, _ = entry.RawGetString("response").(*lua.LFunction)
		ext.stop, _ = entry.RawGetString("stop").(*lua.LFunction)
		out = append(out, ext)
	}
	return out
}

func (r *runtime) bindHostAPI() {
	notifyFn := r.L.NewFunction(func(L *lua.LState) int {
		level := L.ToString(1)
		message := L.ToString(2)
		if r.api.Notify != nil {
			r.api.Notify(severityFromString(level), message)
		}
		return 0
	})
	r.L.SetGlobal("notify", notifyFn)

	roxy := r.L.NewTable()
	roxy.RawSetString("notify", notifyFn)
	r.L.SetGlobal("Roxy", roxy)
	r.L.SetGlobal("roxy", roxy)

	if r.api.WriteFile != nil {
		r.L.SetGlobal("writeFile", r.L.NewFunction(func(L *lua.LState) int {
			path := L.ToString(1)
			data := L.ToString(2)
			if err := r.api.WriteFile(path, []byte(data)); err != nil {
				L.Push(lua.LString(err.Error()))
				return 1
			}
			return 0
		}))
	}
}

func (r *runtime) bindEnums() {
	r.L.SetGlobal("Method", stringEnumTable(r.L, flow.MethodEnum))
	r.L.SetGlobal("Protocol", stringEnumTable(r.L, flow.ProtocolEnum))
	r.L.SetGlobal("Version", stringEnumTable(r.L, flow.VersionEnum))

	status := r.L.NewTable()
	for name, v := range flow.StatusEnum {
		status.RawSetString(name, lua.LNumber(v.Value))
	}
	r.L.SetGlobal("Status", status)
}

func stringEnumTable(L *lua.LState, m map[string]flow.StringEnum) *lua.LTable {
	t := L.NewTable()
	for name, v := range m {
		t.RawSetString(name, lua.LString(v.Value))
	}
	return t
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
		if err := r.L.CallByParam(lua.P{Fn: ext.start, NRet: 0, Protect: true}); err != nil {
			r.reportExtensionError(script.PhaseStart, err)
			ext.start, ext.request, ext.response, ext.stop = nil, nil, nil, nil
		}
	}
	return nil
}

// Stop runs each extension's stop() in the reverse of declaration
// order, mirroring how the Host itself reverses order
// across files.
func (r *runtime) Stop(ctx context.Context) error {
	for i := len(r.extensions) - 1; i >= 0; i-- {
		ext := r.extensions[i]
		if ext.stop == nil {
			continue
		}
		if err := r.L.CallByParam(lua.P{Fn: ext.stop, NRet: 0, Protect: true}); err != nil {
			r.reportExtensionError(script.PhaseStop, err)
		}
	}
	return nil
}

func (r *runtime) HandleRequest(ctx context.Context, f *flow.Flow) error {
	rb := script.NewResponseBinding(f, f.Request().Version)
	flowVal := bindFlow(r.L, f, rb)
	for _, ext := range r.extensions {
		if ext.request == nil {
			continue
		}
		if err := r.L.CallByParam(lua.P{Fn: ext.request, NRet: 0, Protect: true}, flowVal); err != nil {
			r.reportExtensionError(script.PhaseRequest, err)
		}
	}
	return nil
}

func (r *runtime) HandleResponse(ctx context.Context, f *flow.Flow) error {
	flowVal := bindFlow(r.L, f, nil)
	for _, ext := range r.extensions {
		if ext.response == nil {
			continue
		}
		if err := r.L.CallByParam(lua.P{Fn: ext.response, NRet: 0, Protect: true}, flowVal); err != nil {
			r.reportExtensionError(script.PhaseResponse, err)
		}
	}
	return nil
}

func (r *runtime) Close() error {
	r.L.Close()
	return nil
}

func (r *runtime) reportExtensionError(phase string, err error) {
	if r.api.Notify != nil {
		r.api.Notify(notify.SeverityError, fmt.Sprintf("%s: %s handler failed: %v", r.path, phase, err))
	}
}
