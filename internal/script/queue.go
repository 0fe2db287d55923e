package script

import (
	"context"
	"time"

	"github.com/roxyhq/roxy/internal/rerr"
)

// HandlerTimeout caps one handler invocation: a single start/request/
// response/stop invocation that runs longer than this is abandoned and
// reported as rerr.ScriptTimeout, without blocking the executor queue
// forever.
const HandlerTimeout = 5 * time.Second

// job is one unit of work submitted to an executorQueue.
type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// executorQueue is the single dedicated goroutine owning one script
// file's interpreter. Scripts never share an interpreter across
// goroutines; state is handed to the owning executor by message, not
// by shared pointer. Every call into a Runtime (start, request,
// response, stop) is funneled through here in submission order.
type executorQueue struct {
	jobs   chan job
	cancel context.CancelFunc
	done   chan struct{}
}

func newExecutorQueue() *executorQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &executorQueue{
		jobs:   make(chan job),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run(ctx)
	return q
}

func (q *executorQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			j.done <- j.fn(ctx)
		}
	}
}

// submit runs fn on the queue's dedicated goroutine and waits for it to
// finish or for HandlerTimeout to elapse.
// The caller gets ScriptTimeout as soon as the deadline passes so
// dispatch can proceed to the next extension, but the queue itself
// stays single-threaded: the overrun handler keeps running to
// completion before the next queued job starts, preserving the
// one-goroutine-per-file serialization guarantee.
func (q *executorQueue) submit(phase string, extIndex int, fn func(ctx context.Context) error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case q.jobs <- j:
	case <-q.done:
		return rerr.Cancelled("script executor already stopped")
	}

	timer := time.NewTimer(HandlerTimeout)
	defer timer.Stop()

	select {
	case err := <-j.done:
		if err != nil {
			return rerr.ScriptFailed(phase, extIndex, err)
		}
		return nil
	case <-timer.C:
		return rerr.ScriptTimeout(phase, extIndex)
	}
}

// close stops accepting new jobs. In-flight jobs are left to finish.
func (q *executorQueue) close() {
	q.cancel()
}
