// Package script implements the Script Engine Host: file-
// suffix dispatch across three embedded language runtimes, per-file
// single-threaded executor queues, start/request/response/stop
// lifecycle dispatch, hot reload via file watching, and the host API
// surface (notify, writeFile, injected enums).
package script

import (
	"context"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
)

// Phase names used in host API calls and rerr.ScriptFailed/ScriptTimeout.
const (
	PhaseStart    = "start"
	PhaseRequest  = "request"
	PhaseResponse = "response"
	PhaseStop     = "stop"
)

// ExtensionInfo is the per-file metadata the Host tracks for each
// loaded script: position in load order, path, and language.
type ExtensionInfo struct {
	Index    int    `json:"index"`
	Path     string `json:"path"`
	Language string `json:"language"`
}

// HostAPI is the set of host-provided functions every language runtime
// binds into its global namespace (notify, writeFile, plus the enum
// globals from internal/flow).
type HostAPI struct {
	Notify    func(severity notify.Severity, message string)
	WriteFile func(path string, data []byte) error
}

// Runtime is implemented by each embedded language adapter
// (jsengine/luaengine/pyengine). One Runtime instance owns exactly one
// script file's interpreter state, never shared across goroutines
// directly — the Host only ever calls through a single-threaded
// executorQueue.
type Runtime interface {
	// Start invokes the script's start() handler, if defined. The
	// script itself was already evaluated by the Factory that built
	// the Runtime.
	Start(ctx context.Context) error
	// HandleRequest invokes the script's request() handler, if defined,
	// against f. Scripts mutate f.CloneForScript()'s fields; the caller
	// is responsible for AdoptFromScript afterward.
	HandleRequest(ctx context.Context, f *flow.Flow) error
	// HandleResponse invokes the script's response() handler, if defined.
	HandleResponse(ctx context.Context, f *flow.Flow) error
	// Stop invokes the script's stop() handler, if defined.
	Stop(ctx context.Context) error
	// Close releases the interpreter's resources.
	Close() error
}

// Factory constructs a Runtime for one script file. Each language
// package (jsengine, luaengine, pyengine) exposes exactly one Factory.
type Factory func(path string, extensions []ExtensionInfo, api HostAPI) (Runtime, error)
