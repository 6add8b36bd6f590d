package gather

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/goquorum/pkg/common"
	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/model"
)

// countingAlgo tallies responses and declares sufficiency after a fixed
// number of them, regardless of their content.
type countingAlgo struct {
	requests  []model.RemoteRequest
	needed    int
	processed int
	failures  int
}

func newCountingAlgo(needed int, targets ...string) *countingAlgo {
	a := &countingAlgo{needed: needed}
	for _, target := range targets {
		a.requests = append(a.requests, model.RemoteRequest{
			Target:  target,
			DBName:  "admin",
			Code:    model.Heartbeat,
			Command: model.HeartbeatRequest{SetName: "rs0"},
		})
	}
	return a
}

func (a *countingAlgo) Requests() []model.RemoteRequest { return a.requests }

func (a *countingAlgo) ProcessResponse(_ model.RemoteRequest, resp model.RemoteResponse) {
	a.processed++
	if resp.Err != nil {
		a.failures++
	}
}

func (a *countingAlgo) HasReceivedSufficientResponses() bool {
	return a.processed >= a.needed
}

func TestRunner_NoRequests(t *testing.T) {
	// an empty scatter set completes immediately, with no network traffic
	net := executor.NewNetworkMock()
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	algo := newCountingAlgo(0)
	r := NewRunner(algo, slog.Default())
	require.NoError(t, r.Run(exec))
	assert.Equal(t, 0, algo.processed)
}

func TestRunner_AlreadySufficient(t *testing.T) {
	// sufficiency before the first send short-circuits the round
	net := executor.NewNetworkMock()
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	algo := newCountingAlgo(0, "h1", "h2")
	r := NewRunner(algo, slog.Default())
	require.NoError(t, r.Run(exec))
	assert.Equal(t, 0, algo.processed)
}

func TestRunner_AllResponsesDelivered(t *testing.T) {
	targets := []string{"h1", "h2", "h3"}
	net := executor.NewNetworkMock()
	for _, target := range targets {
		net.AddResponse(target, model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	}
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	algo := newCountingAlgo(len(targets), targets...)
	r := NewRunner(algo, slog.Default())
	require.NoError(t, r.Run(exec))
	assert.Equal(t, len(targets), algo.processed)
}

func TestRunner_FailuresStillCompleteTheRound(t *testing.T) {
	// transport failures are responses too; the round must drain without them
	targets := []string{"h1", "h2", "h3"}
	net := executor.NewNetworkMock()
	net.AddResponse("h1", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h2", model.Heartbeat, nil, errors.New("connection refused"))
	net.AddResponse("h3", model.Heartbeat, nil, errors.New("no route to host"))
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	algo := newCountingAlgo(len(targets), targets...)
	r := NewRunner(algo, slog.Default())
	require.NoError(t, r.Run(exec))
	assert.Equal(t, 3, algo.processed)
	assert.Equal(t, 2, algo.failures)
}

func TestRunner_EarlySufficiencyReleasesWaiter(t *testing.T) {
	// two answers are enough; the two blocked members must not hold the
	// waiter, and their responses are still delivered to the algorithm
	// once they arrive
	targets := []string{"h1", "h2", "h3", "h4"}
	net := executor.NewNetworkMock()
	net.AddResponse("h1", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddBlockedResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddBlockedResponse("h4", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)

	algo := newCountingAlgo(2, targets...)
	r := NewRunner(algo, slog.Default())
	require.NoError(t, r.Run(exec))
	assert.GreaterOrEqual(t, algo.processed, 2)

	net.UnblockAll()
	exec.Shutdown()
	exec.Join()
	assert.Equal(t, 4, algo.processed)
}

func TestRunner_ShutdownDrainsPendingResponses(t *testing.T) {
	// shutdown while everything is blocked: every request resolves as a
	// cancellation and the completion event still fires
	targets := []string{"h1", "h2"}
	net := executor.NewNetworkMock()
	net.AddBlockedResponse("h1", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddBlockedResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)

	algo := newCountingAlgo(len(targets), targets...)
	r := NewRunner(algo, slog.Default())

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
	require.NoError(t, err)
	scheduled.Wait()
	require.NoError(t, startErr)

	exec.Shutdown()
	net.UnblockAll()
	evh.Wait()
	exec.Join()

	assert.Equal(t, 2, algo.processed)
	assert.Equal(t, 2, algo.failures)
}

func TestRunner_RunAfterShutdown(t *testing.T) {
	net := executor.NewNetworkMock()
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	exec.Shutdown()
	exec.Join()

	r := NewRunner(newCountingAlgo(1, "h1"), slog.Default())
	err = r.Run(exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrShutdownInProgress)
}

func TestRunner_StartTwicePanics(t *testing.T) {
	net := executor.NewNetworkMock()
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	r := NewRunner(newCountingAlgo(0), slog.Default())
	require.NoError(t, r.Run(exec))
	assert.Panics(t, func() {
		_, _ = r.Start(exec)
	})
}

func TestRunner_ManyRoundsVariedOrder(t *testing.T) {
	// the completion event fires once per round no matter in which order
	// the goroutines happen to deliver the responses
	for trial := 0; trial < 20; trial++ {
		t.Run(fmt.Sprintf("trial %d", trial), func(t *testing.T) {
			targets := []string{"h1", "h2", "h3", "h4", "h5"}
			net := executor.NewNetworkMock()
			for i, target := range targets {
				if i%2 == 0 {
					net.AddResponse(target, model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
				} else {
					net.AddResponse(target, model.Heartbeat, nil, errors.New("connection refused"))
				}
			}
			exec, err := executor.NewTaskExecutor(net, slog.Default())
			require.NoError(t, err)
			defer func() {
				exec.Shutdown()
				exec.Join()
			}()

			algo := newCountingAlgo(3, targets...)
			r := NewRunner(algo, slog.Default())
			require.NoError(t, r.Run(exec))
			assert.GreaterOrEqual(t, algo.processed, 3)
		})
	}
}
