package pyengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/script"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func newTestFlow() *flow.Flow {
	u := flow.NewURL("http", "example.com")
	req := flow.NewRequest(flow.MethodGet, u, flow.Version11)
	return flow.New(req)
}

// TestMultipleExtensionsDispatchInDeclaredOrder exercises the core
// maintainer complaint: a script that declares several extension
// objects in its own Extensions list must have every one of them
// called, in order, not just a bare top-level `request` global — and
// the object each handler receives must be a real Flow-backed object,
// not a bare string.
func TestMultipleExtensionsDispatchInDeclaredOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "multi.py", `
class First:
    def request(self, flow):
        flow.request.headers.set("x-order", "first")

class Second:
    def request(self, flow):
        flow.request.headers.append("x-order", "second")

Extensions = [First(), Second()]
`)

	rt, err := New(path, nil, script.HostAPI{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f := newTestFlow()
	if err := rt.HandleRequest(context.Background(), f); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	got := f.Request().Headers.GetAll("x-order")
	want := []string{"first", "second"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestLazyResponseSynthesis: assigning to flow.response during the
// request phase must attach a synthesized response.
func TestLazyResponseSynthesis(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "synth.py", `
class Synth:
    def request(self, flow):
        flow.response.status = 204
        flow.response.body.text = "done"

Extensions = [Synth()]
`)

	rt, err := New(path, nil, script.HostAPI{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()
	_ = rt.Start(context.Background())

	f := newTestFlow()
	if err := rt.HandleRequest(context.Background(), f); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	resp := f.Response()
	if resp == nil {
		t.Fatal("expected a synthesized response to be attached")
	}
	if resp.Status != 204 {
		t.Fatalf("got status %d, want 204", resp.Status)
	}
	if resp.Body.Text() != "done" {
		t.Fatalf("got body %q, want %q", resp.Body.Text(), "done")
	}
}

// TestExtensionErrorIsolation: one extension's start() raising must not
// prevent a sibling extension in the same file from running.
func TestExtensionErrorIsolation(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "iso.py", `
class Bad:
    def start(self):
        raise RuntimeError("boom")

    def request(self, flow):
        flow.request.headers.set("x-bad", "yes")

class Good:
    def request(self, flow):
        flow.request.headers.set("x-good", "yes")

Extensions = [Bad(), Good()]
`)

	rt, err := New(path, nil, script.HostAPI{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f := newTestFlow()
	if err := rt.HandleRequest(context.Background(), f); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	if _, ok := f.Request().Headers.Get("x-bad"); ok {
		t.Fatal("extension whose start() failed should not run request()")
	}
	if _, ok := f.Request().Headers.Get("x-good"); !ok {
		t.Fatal("sibling extension should still run")
	}
}
