// Package notify implements the Notification Sink: an
// in-process multi-producer queue that scripts reach via notify(level,
// message). The core never formats or persists notifications; it only
// fans them out to Go-channel subscribers that an external front-end
// (TUI, logger) can drain.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity is a notification level: 0=trace through 4=error.
type Severity uint8

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
)

// String renders the severity name, used by front-ends that format logs.
func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is one message published by a script or engine.
type Notification struct {
	ID         string
	Severity   Severity
	Message    string
	ProducedAt time.Time
}

// Sink is the multi-producer/multi-consumer notification queue shared
// across the proxy: an RWMutex-guarded registration map with
// channel-based broadcast that drops on a full subscriber buffer. It
// exposes a plain Go channel API; wiring it to a transport is the
// front-end's job.
type Sink struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
	bufferSize  int
}

// NewSink creates a Sink whose subscriber channels buffer up to
// bufferSize notifications before a slow subscriber starts dropping
// messages. Delivery is best effort.
func NewSink(bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Sink{
		subscribers: make(map[chan Notification]struct{}),
		bufferSize:  bufferSize,
	}
}

// Publish delivers n to every current subscriber. Non-blocking: a
// subscriber whose buffer is full silently misses the notification
// rather than stalling the producing script executor.
func (s *Sink) Publish(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ProducedAt.IsZero() {
		n.ProducedAt = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// Notify is the convenience form scripts call via notify(level, message).
func (s *Sink) Notify(severity Severity, message string) {
	s.Publish(Notification{Severity: severity, Message: message})
}

// Subscribe registers a new receiver and returns its channel along with
// an unsubscribe func. Callers must invoke unsubscribe to release the
// channel once done draining it.
func (s *Sink) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, s.bufferSize)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount reports the current number of live subscribers,
// mainly useful for tests and diagnostics.
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
