package gather

import (
	"log/slog"

	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/model"
)

// Algorithm is the logic of one scatter-gather round: it produces the set of
// outbound requests, consumes each response as it arrives, and decides when
// enough information has been gathered.
//
// Requests is called once, before any request is sent. ProcessResponse is
// invoked once per delivered response, in arrival order, on serialized
// executor callbacks, so implementations need no locking.
// HasReceivedSufficientResponses must be monotonic: once it reports true for
// a given tally it must keep reporting true as more responses are tallied.
type Algorithm interface {
	Requests() []model.RemoteRequest
	ProcessResponse(req model.RemoteRequest, resp model.RemoteResponse)
	HasReceivedSufficientResponses() bool
}

// Runner drives one Algorithm through a single scatter-gather round. It
// issues every request concurrently, forwards responses into the Algorithm,
// and signals a completion event exactly once, as soon as the Algorithm
// declares sufficiency or every response has been delivered.
type Runner struct {
	algo   Algorithm
	logger *slog.Logger

	event    *executor.Event
	pending  int
	started  bool
	signaled bool
}

func NewRunner(algo Algorithm, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		algo:   algo,
		logger: logger.With("component", "scatter-gather runner"),
	}
}

// Start issues the round's requests and returns the completion event.
// It must be invoked from executor callback context; Run takes care of that
// for blocking callers. A Runner drives exactly one round.
func (r *Runner) Start(exec executor.Executor) (*executor.Event, error) {
	if r.started {
		panic("scatter-gather runner started twice")
	}
	r.started = true
	r.event = exec.NewEvent()

	requests := r.algo.Requests()
	if r.algo.HasReceivedSufficientResponses() || len(requests) == 0 {
		// nothing to gather, no network traffic
		r.signaled = true
		r.event.Signal()
		return r.event, nil
	}

	r.pending = len(requests)
	for _, req := range requests {
		if err := exec.ScheduleRemoteCommand(req, r.processResponse); err != nil {
			r.logger.Error("failed to schedule remote command", "target", req.Target, "error", err.Error())
			return nil, err
		}
	}

	return r.event, nil
}

// Run drives the round to completion, blocking the caller until the
// completion event fires. It returns a non-nil error only when scheduling
// itself failed; the tally outcome is read from the Algorithm afterwards.
func (r *Runner) Run(exec executor.Executor) error {
	var (
		evh      *executor.Event
		startErr error
	)
	scheduled, err := exec.ScheduleWork(func(cbErr error) {
		if cbErr != nil {
			startErr = cbErr
			return
		}
		evh, startErr = r.Start(exec)
	})
	if err != nil {
		return err
	}
	scheduled.Wait()
	if startErr != nil {
		return startErr
	}

	evh.Wait()
	return nil
}

// processResponse runs on executor callback context, once per response.
// Cancellations arrive here as failed responses, so a shut-down round still
// drains to pending == 0 and releases its waiter.
func (r *Runner) processResponse(req model.RemoteRequest, resp model.RemoteResponse) {
	r.algo.ProcessResponse(req, resp)
	r.pending--
	if r.signaled {
		return
	}
	if r.algo.HasReceivedSufficientResponses() || r.pending == 0 {
		r.signaled = true
		r.event.Signal()
	}
}
