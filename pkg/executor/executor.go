package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danl5/goquorum/pkg/common"
	"github.com/danl5/goquorum/pkg/model"
)

// NetworkInterface sends a single command document to a remote member and
// returns the response document. Implementations must honor ctx, which is
// canceled on request timeout and on executor shutdown.
type NetworkInterface interface {
	RunCommand(ctx context.Context, req model.RemoteRequest) (any, error)
}

// RemoteCallback consumes the response to one remote command.
type RemoteCallback func(req model.RemoteRequest, resp model.RemoteResponse)

// WorkCallback is a locally scheduled callback. err is non-nil when the
// callback is delivered as part of executor shutdown.
type WorkCallback func(err error)

// Executor schedules remote commands and local callbacks. All callbacks
// scheduled on one executor are delivered serialized, never overlapping,
// so the state they share needs no locking of its own.
type Executor interface {
	// ScheduleRemoteCommand issues the request through the network and
	// arranges for cb to run with the response. Exactly one response, or a
	// cancellation, is delivered per scheduled request.
	ScheduleRemoteCommand(req model.RemoteRequest, cb RemoteCallback) error
	// ScheduleWork queues fn on the callback loop. The returned event is
	// signaled after fn has run.
	ScheduleWork(fn WorkCallback) (*Event, error)
	// NewEvent creates a one-shot event that can be waited on and signaled.
	NewEvent() *Event
	// Shutdown cancels all outstanding work. Pending and in-flight
	// callbacks still run, with a cancellation status.
	Shutdown()
}

// TaskExecutor runs all callbacks on a single loop goroutine.
type TaskExecutor struct {
	net    NetworkInterface
	logger *slog.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []func()
	inflight     int
	shuttingDown bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTaskExecutor(net NetworkInterface, logger *slog.Logger) (*TaskExecutor, error) {
	if net == nil {
		return nil, fmt.Errorf("new task executor, network interface is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new task executor, logger is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &TaskExecutor{
		net:    net,
		logger: logger.With("component", "task executor"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()
	return e, nil
}

// run is the callback loop. It drains the queue one callback at a time and
// exits once shutdown has been requested and no work remains.
func (e *TaskExecutor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !(e.shuttingDown && e.inflight == 0) {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}

func (e *TaskExecutor) NewEvent() *Event {
	return NewEvent()
}

// ScheduleRemoteCommand issues the request through the network interface on
// its own goroutine and queues the callback back onto the serial loop.
func (e *TaskExecutor) ScheduleRemoteCommand(req model.RemoteRequest, cb RemoteCallback) error {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot schedule remote command", common.ErrShutdownInProgress)
	}
	e.inflight++
	e.mu.Unlock()

	go func() {
		timeout := req.Timeout
		if timeout == 0 {
			timeout = model.DefaultCommandTimeout
		}
		ctx, cancel := context.WithTimeout(e.ctx, timeout)
		defer cancel()

		doc, err := e.net.RunCommand(ctx, req)
		if err != nil && e.ctx.Err() != nil {
			// shutdown raced with the command; surface it as a cancellation
			err = fmt.Errorf("%w: executor shutdown", common.ErrCanceled)
		}

		e.mu.Lock()
		e.inflight--
		e.queue = append(e.queue, func() {
			cb(req, model.RemoteResponse{Doc: doc, Err: err})
		})
		e.cond.Signal()
		e.mu.Unlock()
	}()

	return nil
}

// ScheduleWork queues fn on the callback loop. If the executor shuts down
// before fn runs, fn is still invoked, with a cancellation status.
func (e *TaskExecutor) ScheduleWork(fn WorkCallback) (*Event, error) {
	ev := NewEvent()

	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot schedule work", common.ErrShutdownInProgress)
	}
	e.queue = append(e.queue, func() {
		var err error
		if e.isShuttingDown() {
			err = fmt.Errorf("%w: executor shutdown", common.ErrCanceled)
		}
		fn(err)
		ev.Signal()
	})
	e.cond.Signal()
	e.mu.Unlock()

	return ev, nil
}

// Shutdown cancels every outstanding remote command and stops accepting new
// work. Queued and in-flight callbacks are still delivered, with a
// cancellation status, before the loop exits.
func (e *TaskExecutor) Shutdown() {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return
	}
	e.shuttingDown = true
	e.cond.Signal()
	e.mu.Unlock()

	e.cancel()
	e.logger.Info("task executor shutting down")
}

// Join blocks until the callback loop has drained and exited.
// Call Shutdown first.
func (e *TaskExecutor) Join() {
	<-e.done
}

func (e *TaskExecutor) isShuttingDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuttingDown
}
