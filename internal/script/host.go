package script

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
)

// suffixFactories maps a file suffix to its language Factory.
// Populated by RegisterLanguage so
// cmd/roxy can wire the three concrete engines without this package
// importing them directly, keeping internal/script the reusable host
// and jsengine/luaengine/pyengine the leaves.
var suffixFactories = map[string]Factory{}
var suffixFactoriesMu sync.Mutex

// RegisterLanguage binds suffix (e.g. ".js") to factory. Each of
// jsengine, luaengine, and pyengine calls this from an init() so that
// merely importing them for side effects is enough to enable a
// language, in the database/sql driver-registration idiom.
func RegisterLanguage(suffix string, factory Factory) {
	suffixFactoriesMu.Lock()
	defer suffixFactoriesMu.Unlock()
	suffixFactories[suffix] = factory
}

// extension is one loaded script file: its executor queue, its
// Runtime, and the metadata the Host needs for reload/dispatch order.
type extension struct {
	info    ExtensionInfo
	queue   *executorQueue
	runtime Runtime
}

// Host is the Script Engine Host: it discovers script
// files, loads one Runtime per file behind a dedicated executorQueue,
// runs their start/request/response/stop lifecycle in load order
// (reverse order for stop), and watches for changes to hot-reload.
//
// The extension slice is RWMutex-guarded: rebuilt wholesale on
// reload, read under RLock for dispatch. Each *extension owns its own
// executor goroutine.
type Host struct {
	mu   sync.RWMutex
	exts []*extension

	sink    *notify.Sink
	log     *slog.Logger
	watcher *fsnotify.Watcher
	paths   []string // explicit --script paths, in CLI order
	stopCh  chan struct{}
}

// New creates a Host that will notify through sink and log via log.
func New(sink *notify.Sink, log *slog.Logger, paths []string) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{sink: sink, log: log, paths: paths, stopCh: make(chan struct{})}
}

// Load discovers and starts every script named in h.paths, in the
// order given. Extensions run in the order their files were specified.
func (h *Host) Load(ctx context.Context) error {
	infos := make([]ExtensionInfo, 0, len(h.paths))
	for i, p := range h.paths {
		infos = append(infos, ExtensionInfo{Index: i, Path: p, Language: languageFor(p)})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, p := range h.paths {
		ext, err := h.loadOne(ctx, i, p, infos)
		if err != nil {
			// A load failure disables only that file; the rest of the
			// host keeps running.
			h.log.Error("script load failed", "path", p, "error", err)
			h.sink.Notify(notify.SeverityError, "failed to load "+p+": "+err.Error())
			continue
		}
		h.exts = append(h.exts, ext)
	}

	// start() runs only after every file has been evaluated, so a later
	// file's load failure is visible before any extension begins work.
	started := h.exts[:0]
	for _, ext := range h.exts {
		if err := h.startOne(ext); err != nil {
			continue
		}
		started = append(started, ext)
	}
	h.exts = started

	return h.startWatcher()
}

// startOne submits the extension's start() handler; a failure disables
// the extension (its queue and runtime are torn down) and is reported
// through the log and sink.
func (h *Host) startOne(ext *extension) error {
	if err := ext.queue.submit(PhaseStart, ext.info.Index, ext.runtime.Start); err != nil {
		h.log.Error("script start failed", "path", ext.info.Path, "error", err)
		h.sink.Notify(notify.SeverityError, "start failed for "+ext.info.Path+": "+err.Error())
		ext.queue.close()
		ext.runtime.Close()
		return err
	}
	return nil
}

func (h *Host) loadOne(ctx context.Context, index int, path string, infos []ExtensionInfo) (*extension, error) {
	suffix := filepath.Ext(path)

	suffixFactoriesMu.Lock()
	factory, ok := suffixFactories[suffix]
	suffixFactoriesMu.Unlock()
	if !ok {
		return nil, os.ErrInvalid
	}

	api := HostAPI{
		Notify: h.sink.Notify,
		WriteFile: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
	}

	rt, err := factory(path, infos, api)
	if err != nil {
		return nil, err
	}

	return &extension{
		info:    infos[index],
		queue:   newExecutorQueue(),
		runtime: rt,
	}, nil
}

// DispatchRequest runs every loaded extension's request() handler in
// load order against f, adopting any mutation before moving to the
// next extension, so each extension sees the previous one's mutations.
func (h *Host) DispatchRequest(ctx context.Context, f *flow.Flow) {
	h.dispatch(ctx, PhaseRequest, f, func(rt Runtime, ctx context.Context, clone *flow.Flow) error {
		return rt.HandleRequest(ctx, clone)
	})
}

// DispatchResponse runs every loaded extension's response() handler in
// load order.
func (h *Host) DispatchResponse(ctx context.Context, f *flow.Flow) {
	h.dispatch(ctx, PhaseResponse, f, func(rt Runtime, ctx context.Context, clone *flow.Flow) error {
		return rt.HandleResponse(ctx, clone)
	})
}

func (h *Host) dispatch(ctx context.Context, phase string, f *flow.Flow, call func(Runtime, context.Context, *flow.Flow) error) {
	h.mu.RLock()
	exts := append([]*extension(nil), h.exts...)
	h.mu.RUnlock()

	for _, ext := range exts {
		clone := f.CloneForScript()
		err := ext.queue.submit(phase, ext.info.Index, func(ctx context.Context) error {
			return call(ext.runtime, ctx, clone)
		})
		if err != nil {
			// A handler failure or timeout logs and proceeds to the
			// next extension; the flow is not aborted.
			h.log.Warn("script handler error", "phase", phase, "extension", ext.info.Path, "error", err)
			continue
		}
		f.AdoptFromScript(clone)
	}
}

// Stop invokes every loaded extension's stop() handler in reverse load
// order and tears down the file watcher.
func (h *Host) Stop(ctx context.Context) {
	close(h.stopCh)
	if h.watcher != nil {
		h.watcher.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.exts) - 1; i >= 0; i-- {
		ext := h.exts[i]
		if err := ext.queue.submit(PhaseStop, ext.info.Index, ext.runtime.Stop); err != nil {
			h.log.Warn("script stop handler error", "extension", ext.info.Path, "error", err)
		}
		ext.queue.close()
		ext.runtime.Close()
	}
	h.exts = nil
}

// Extensions returns a snapshot of currently loaded extension metadata,
// sorted by index, mainly for diagnostics/tests.
func (h *Host) Extensions() []ExtensionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ExtensionInfo, len(h.exts))
	for i, ext := range h.exts {
		out[i] = ext.info
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func languageFor(path string) string {
	switch filepath.Ext(path) {
	case ".js":
		return "javascript"
	case ".lua":
		return "lua"
	case ".py":
		return "python"
	default:
		return "unknown"
	}
}

// startWatcher begins the fsnotify-based hot reload loop: one watcher
// over every script's parent directory, reloading on each write or
// create event without debouncing.
func (h *Host) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = w

	dirs := map[string]bool{}
	for _, p := range h.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			h.log.Warn("script watch failed", "dir", dir, "error", err)
		}
	}

	go h.watchLoop()
	return nil
}

func (h *Host) watchLoop() {
	for {
		select {
		case <-h.stopCh:
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !h.isWatchedPath(ev.Name) {
				continue
			}
			h.reloadOne(context.Background(), ev.Name)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("script watcher error", "error", err)
		}
	}
}

func (h *Host) isWatchedPath(name string) bool {
	for _, p := range h.paths {
		if samePath(p, name) {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// reloadOne tears down the outgoing extension (calling its stop()
// handler) and brings up a freshly loaded one in its place, keeping
// its position in the dispatch order: the outgoing extension's stop
// runs before the incoming's start, and sibling order is undisturbed.
func (h *Host) reloadOne(ctx context.Context, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := -1
	for i, ext := range h.exts {
		if samePath(ext.info.Path, path) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	old := h.exts[idx]
	if err := old.queue.submit(PhaseStop, old.info.Index, old.runtime.Stop); err != nil {
		h.log.Warn("reload: stop handler error", "path", path, "error", err)
	}
	old.queue.close()
	old.runtime.Close()

	infos := h.infoSnapshotLocked()
	newExt, err := h.loadOne(ctx, old.info.Index, path, infos)
	if err != nil {
		h.log.Error("reload: load failed, extension disabled", "path", path, "error", err)
		h.sink.Notify(notify.SeverityError, "hot reload failed for "+path+": "+err.Error())
		h.exts = append(h.exts[:idx], h.exts[idx+1:]...)
		return
	}
	if err := h.startOne(newExt); err != nil {
		h.exts = append(h.exts[:idx], h.exts[idx+1:]...)
		return
	}
	h.exts[idx] = newExt
	h.sink.Notify(notify.SeverityInfo, "reloaded "+path)
}

func (h *Host) infoSnapshotLocked() []ExtensionInfo {
	infos := make([]ExtensionInfo, len(h.paths))
	for i, p := range h.paths {
		infos[i] = ExtensionInfo{Index: i, Path: p, Language: languageFor(p)}
	}
	return infos
}
