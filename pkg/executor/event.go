package executor

import (
	"sync"
)

// Event is a one-shot completion signal. It is signaled at most once;
// additional Signal calls are no-ops.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal fires the event, releasing every current and future waiter.
func (e *Event) Signal() {
	e.once.Do(func() {
		close(e.ch)
	})
}

// Wait blocks the caller until the event has been signaled.
func (e *Event) Wait() {
	<-e.ch
}

// HasFired reports whether the event has been signaled.
func (e *Event) HasFired() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
