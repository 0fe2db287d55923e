package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/rerr"
)

// recordingRuntime is a test Runtime that appends a marker to its
// body-cascade target and records lifecycle calls for ordering
// assertions.
type recordingRuntime struct {
	name       string
	events     *[]string
	mu         *sync.Mutex
	appendText string
}

func (r *recordingRuntime) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.events = append(*r.events, r.name+":"+event)
}

func (r *recordingRuntime) Start(ctx context.Context) error { r.record("start"); return nil }
func (r *recordingRuntime) Stop(ctx context.Context) error  { r.record("stop"); return nil }
func (r *recordingRuntime) Close() error                    { return nil }

func (r *recordingRuntime) HandleRequest(ctx context.Context, f *flow.Flow) error {
	r.record("request")
	f.Request().Body.SetText(f.Request().Body.Text() + r.appendText)
	return nil
}

func (r *recordingRuntime) HandleResponse(ctx context.Context, f *flow.Flow) error {
	r.record("response")
	return nil
}

func registerTestFactory(suffix string, events *[]string, mu *sync.Mutex, appendText string) {
	RegisterLanguage(suffix, func(path string, extensions []ExtensionInfo, api HostAPI) (Runtime, error) {
		return &recordingRuntime{name: path, events: events, mu: mu, appendText: appendText}, nil
	})
}

func newTestFlow() *flow.Flow {
	u := flow.NewURL("http", "h")
	req := flow.NewRequest(flow.MethodGet, u, flow.Version11)
	return flow.New(req)
}

func TestHost_StartStopOrdering(t *testing.T) {
	var events []string
	var mu sync.Mutex
	registerTestFactory(".testlang1", &events, &mu, "")

	h := New(notify.NewSink(8), nil, []string{"a.testlang1", "b.testlang1"})
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	h.Stop(context.Background())

	want := []string{"a.testlang1:start", "b.testlang1:start", "b.testlang1:stop", "a.testlang1:stop"}
	mu.Lock()
	got := append([]string(nil), events...)
	mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestHost_DispatchRequestCascadesBodyAcrossExtensions(t *testing.T) {
	var events []string
	var mu sync.Mutex
	RegisterLanguage(".testlang2a", func(path string, ext []ExtensionInfo, api HostAPI) (Runtime, error) {
		return &recordingRuntime{name: path, events: &events, mu: &mu, appendText: "A"}, nil
	})
	RegisterLanguage(".testlang2b", func(path string, ext []ExtensionInfo, api HostAPI) (Runtime, error) {
		return &recordingRuntime{name: path, events: &events, mu: &mu, appendText: "B"}, nil
	})

	h := New(notify.NewSink(8), nil, []string{"one.testlang2a", "two.testlang2b"})
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Stop(context.Background())

	f := newTestFlow()
	h.DispatchRequest(context.Background(), f)

	if got := f.Request().Body.Text(); got != "AB" {
		t.Fatalf("expected cascading mutation AB, got %q", got)
	}
}

func TestHost_ExtensionsSnapshotReflectsLoadOrder(t *testing.T) {
	var events []string
	var mu sync.Mutex
	registerTestFactory(".testlang3", &events, &mu, "")

	h := New(notify.NewSink(8), nil, []string{"first.testlang3", "second.testlang3"})
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Stop(context.Background())

	infos := h.Extensions()
	if len(infos) != 2 || infos[0].Path != "first.testlang3" || infos[1].Path != "second.testlang3" {
		t.Fatalf("got %+v", infos)
	}
}

func TestHost_LoadFailureDisablesOnlyThatFile(t *testing.T) {
	var events []string
	var mu sync.Mutex
	registerTestFactory(".testlang4", &events, &mu, "")

	h := New(notify.NewSink(8), nil, []string{"ok.testlang4", "missing.nosuchlang"})
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Stop(context.Background())

	infos := h.Extensions()
	if len(infos) != 1 || infos[0].Path != "ok.testlang4" {
		t.Fatalf("expected only the loadable extension to survive, got %+v", infos)
	}
}

func TestExecutorQueue_SerializesJobsFIFO(t *testing.T) {
	q := newExecutorQueue()
	defer q.close()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.submit(PhaseRequest, 0, func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(2 * time.Millisecond) // ensure submission order
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order 0..4, got %v", order)
		}
	}
}

func TestExecutorQueue_PropagatesHandlerErrorAsScriptFailed(t *testing.T) {
	q := newExecutorQueue()
	defer q.close()

	err := q.submit(PhaseResponse, 3, func(ctx context.Context) error {
		return errBoom
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	var re *rerr.Error
	if !errors.As(err, &re) || re.Kind != rerr.KindScriptHandlerFailed {
		t.Fatalf("got %v, want a %s error", err, rerr.KindScriptHandlerFailed)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
