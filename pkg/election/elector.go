package election

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/executor"
)

// Node states of the elector
const (
	StateFollower  = "follower"
	StateCandidate = "candidate"
	StatePrimary   = "primary"
)

// Events driving the elector state machine
const (
	EventStartElection = "start_election"
	EventMajorityVotes = "majority_votes"
	EventElectionLost  = "election_lost"
	EventStepDown      = "step_down"
)

// Elector interprets the vote tally of a CmdRunner against the configuration's
// majority threshold and tracks the local member's role across attempts.
type Elector struct {
	cfg     *config.ReplicaConfig
	myIndex int
	exec    executor.Executor

	// fsm is the finite state machine of the local member's role
	fsm    *fsm.FSM
	logger *slog.Logger
}

func NewElector(exec executor.Executor, cfg *config.ReplicaConfig, selfIndex int, logger *slog.Logger) (*Elector, error) {
	if logger == nil {
		return nil, fmt.Errorf("new elector, logger is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if selfIndex < 0 || selfIndex >= cfg.NumMembers() {
		return nil, fmt.Errorf("new elector, self index %d out of range", selfIndex)
	}

	e := &Elector{
		cfg:     cfg,
		myIndex: selfIndex,
		exec:    exec,
		logger:  logger.With("component", "elector"),
	}
	// initialize the role FSM
	e.initializeFsm()
	return e, nil
}

// Elect runs one election attempt: it broadcasts vote requests to every
// other member, waits for the round to complete, and transitions to primary
// when the tally reaches the majority threshold. Returns whether the
// election was won.
func (e *Elector) Elect(ctx context.Context) (bool, error) {
	if err := e.fsm.Event(ctx, EventStartElection); err != nil {
		return false, err
	}

	me := e.cfg.MemberAt(e.myIndex)
	if !me.IsElectable() {
		e.logger.Info("not electable, abandoning election attempt")
		if err := e.fsm.Event(ctx, EventElectionLost); err != nil {
			return false, err
		}
		return false, nil
	}

	var targets []string
	for i := 0; i < e.cfg.NumMembers(); i++ {
		if i == e.myIndex {
			continue
		}
		targets = append(targets, e.cfg.MemberAt(i).Host)
	}

	runner, err := NewCmdRunner(e.logger)
	if err != nil {
		return false, err
	}

	var (
		evh      *executor.Event
		startErr error
	)
	scheduled, err := e.exec.ScheduleWork(func(cbErr error) {
		if cbErr != nil {
			startErr = cbErr
			return
		}
		evh, startErr = runner.Start(e.exec, e.cfg, e.myIndex, targets)
	})
	if err != nil {
		return false, err
	}
	scheduled.Wait()
	if startErr != nil {
		return false, startErr
	}
	evh.Wait()

	votes := runner.ReceivedVotes()
	majority := e.cfg.MajorityVoteCount()
	if votes >= majority {
		e.logger.Info("received a majority of votes, becoming primary", "votes", votes, "required", majority)
		if err := e.fsm.Event(ctx, EventMajorityVotes); err != nil {
			return false, err
		}
		return true, nil
	}

	e.logger.Info("election lost", "votes", votes, "required", majority)
	if err := e.fsm.Event(ctx, EventElectionLost); err != nil {
		return false, err
	}
	return false, nil
}

// StepDown moves a primary back to the follower state.
func (e *Elector) StepDown(ctx context.Context) error {
	return e.fsm.Event(ctx, EventStepDown)
}

// CurrentState returns the current role of the local member.
func (e *Elector) CurrentState() string {
	return e.fsm.Current()
}

// Visualize returns the elector state machine in Graphviz format.
func (e *Elector) Visualize() string {
	return fsm.Visualize(e.fsm)
}

// initializeFsm initializes the role state machine of the local member
func (e *Elector) initializeFsm() {
	e.fsm = fsm.NewFSM(
		StateFollower,
		fsm.Events{
			{
				Name: EventStartElection,
				Src:  []string{StateFollower},
				Dst:  StateCandidate,
			},
			{
				Name: EventMajorityVotes,
				Src:  []string{StateCandidate},
				Dst:  StatePrimary,
			},
			{
				Name: EventElectionLost,
				Src:  []string{StateCandidate},
				Dst:  StateFollower,
			},
			{
				Name: EventStepDown,
				Src:  []string{StatePrimary},
				Dst:  StateFollower,
			},
		},
		fsm.Callbacks{
			"enter_" + StatePrimary: func(_ context.Context, ev *fsm.Event) {
				e.logger.Info("become primary", "src", ev.Src)
			},
			"enter_" + StateFollower: func(_ context.Context, ev *fsm.Event) {
				e.logger.Info("become follower", "src", ev.Src)
			},
			"enter_" + StateCandidate: func(_ context.Context, ev *fsm.Event) {
				e.logger.Info("become candidate", "src", ev.Src)
			},
		},
	)
}
