package election

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/gather"
	"github.com/danl5/goquorum/pkg/model"
)

// CmdRunner broadcasts a vote request to every target member of one election
// attempt and tallies the affirmative responses. The tally is seeded with a
// vote for self.
//
// Usage: create a CmdRunner, call Start and wait on the returned event;
// ReceivedVotes is valid once the event has fired. A CmdRunner drives
// exactly one attempt and holds no state across attempts.
type CmdRunner struct {
	cfg     *config.ReplicaConfig
	myIndex int
	targets []string

	// round is the correlation token of this attempt
	round           int64
	receivedVotes   int
	actualResponses int

	runner *gather.Runner
	logger *slog.Logger
}

func NewCmdRunner(logger *slog.Logger) (*CmdRunner, error) {
	if logger == nil {
		return nil, fmt.Errorf("new elect cmd runner, logger is nil")
	}
	return &CmdRunner{
		logger: logger.With("component", "elect cmd runner"),
	}, nil
}

// Start begins the vote broadcast against targets and returns the completion
// event. cfg must stay alive until that event has fired; selfIndex is the
// index of the local member in cfg.
func (r *CmdRunner) Start(exec executor.Executor, cfg *config.ReplicaConfig, selfIndex int, targets []string) (*executor.Event, error) {
	r.cfg = cfg
	r.myIndex = selfIndex
	r.targets = targets
	r.receivedVotes = 1 // vote for ourself
	r.round = rand.Int63()

	r.runner = gather.NewRunner(r, r.logger)
	return r.runner.Start(exec)
}

// ReceivedVotes returns the number of affirmative votes tallied. It is valid
// only after the event returned by Start has fired.
func (r *CmdRunner) ReceivedVotes() int {
	return r.receivedVotes
}

// Round returns the correlation token generated for this attempt.
func (r *CmdRunner) Round() int64 {
	return r.round
}

func (r *CmdRunner) Requests() []model.RemoteRequest {
	me := r.cfg.MemberAt(r.myIndex)
	electCmd := model.ElectRequest{
		SetName:       r.cfg.SetName,
		Who:           me.Host,
		WhoID:         me.ID,
		ConfigVersion: r.cfg.Version,
		Round:         r.round,
	}

	requests := make([]model.RemoteRequest, 0, len(r.targets))
	for _, target := range r.targets {
		requests = append(requests, model.RemoteRequest{
			Target:  target,
			DBName:  "admin",
			Code:    model.Elect,
			Command: electCmd,
		})
	}
	return requests
}

func (r *CmdRunner) ProcessResponse(req model.RemoteRequest, resp model.RemoteResponse) {
	r.actualResponses++

	if resp.Err != nil {
		r.logger.Warn("elect request failed", "target", req.Target, "error", resp.Err.Error())
		return
	}

	vote := model.ElectResponse{}
	if err := model.Decode(resp.Doc, &vote); err != nil {
		r.logger.Warn("bad elect response", "target", req.Target, "error", err.Error())
		return
	}

	// A negative or zero vote is simply not counted; it never decrements
	// the tally. The echoed round token is not checked against r.round.
	if vote.Ok && vote.Vote > 0 {
		r.logger.Info("received vote", "target", req.Target)
		r.receivedVotes++
	}
}

func (r *CmdRunner) HasReceivedSufficientResponses() bool {
	return r.actualResponses >= len(r.targets)
}
