package flow

import "testing"

func newTestFlow() *Flow {
	u := NewURL("http", "h")
	req := NewRequest(MethodGet, u, Version11)
	return New(req)
}

func TestFlow_NewHasExactlyOneRequestNoResponse(t *testing.T) {
	f := newTestFlow()
	if f.Request() == nil {
		t.Fatal("expected non-nil request")
	}
	if f.HasResponse() {
		t.Fatal("expected no response on a fresh flow")
	}
}

func TestFlow_SynthesizeMarksSynthetic(t *testing.T) {
	f := newTestFlow()
	resp := NewResponse(404, Version11)
	f.SynthesizeResponse(resp)

	if !f.HasResponse() {
		t.Fatal("expected response present")
	}
	if !f.IsSynthesized() {
		t.Fatal("expected synthesized flag set")
	}
}

func TestFlow_UpstreamResponseNotSynthetic(t *testing.T) {
	f := newTestFlow()
	resp := NewResponse(200, Version11)
	f.AttachUpstreamResponse(resp)

	if f.IsSynthesized() {
		t.Fatal("expected upstream response not marked synthetic")
	}
}

func TestFlow_CloneForScriptIsIndependent(t *testing.T) {
	f := newTestFlow()
	clone := f.CloneForScript()
	clone.Request().Headers.Append("X-New", "1")

	if f.Request().Headers.Has("X-New") {
		t.Fatal("mutation of clone leaked into the live flow before AdoptFromScript")
	}

	f.AdoptFromScript(clone)
	if !f.Request().Headers.Has("X-New") {
		t.Fatal("expected AdoptFromScript to copy back mutations")
	}
}

func TestFlow_CancelPropagatesThroughScriptClone(t *testing.T) {
	f := newTestFlow()
	clone := f.CloneForScript()
	clone.Cancel()

	f.AdoptFromScript(clone)
	if !f.Cancelled() {
		t.Fatal("expected cancel on the script clone to reach the live flow")
	}
}

func TestFlow_CancelIsObservable(t *testing.T) {
	f := newTestFlow()
	if f.Cancelled() {
		t.Fatal("expected not cancelled initially")
	}
	f.Cancel()
	if !f.Cancelled() {
		t.Fatal("expected cancelled after Cancel()")
	}
}
