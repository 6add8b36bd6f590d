package quorum

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/danl5/goquorum/pkg/common"
	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/gather"
	"github.com/danl5/goquorum/pkg/model"
)

// Checker decides whether a proposed replica configuration has sufficient
// live, electable and voting support to be adopted. It probes every other
// member with a heartbeat and tabulates the responses.
//
// Usage: create a Checker for the proposed configuration and the index of
// the local member (assumed up), drive it with a gather.Runner, and read
// FinalStatus once HasReceivedSufficientResponses has become true.
//
// cfg must stay alive until the check completes.
type Checker struct {
	cfg     *config.ReplicaConfig
	myIndex int

	// down holds the targets believed to be unreachable
	down []string
	// voters holds the voting members that responded affirmatively
	voters []string
	// numResponses counts responses and timeouts processed, self included
	numResponses int
	// numElectable counts electable members that responded affirmatively
	numElectable int

	// vetoErr is set permanently once a response proves the configuration
	// cannot be safe
	vetoErr error
	// finalErr is the outcome of the check; it stays "canceled" until the
	// check runs to completion
	finalErr      error
	finalComputed bool

	logger *slog.Logger
}

func NewChecker(cfg *config.ReplicaConfig, myIndex int, logger *slog.Logger) (*Checker, error) {
	if logger == nil {
		return nil, fmt.Errorf("new quorum checker, logger is nil")
	}
	if myIndex < 0 || myIndex >= cfg.NumMembers() {
		return nil, fmt.Errorf("new quorum checker, self index %d out of range", myIndex)
	}

	c := &Checker{
		cfg:          cfg,
		myIndex:      myIndex,
		numResponses: 1, // we "responded" to ourself already
		finalErr:     fmt.Errorf("%w: quorum check canceled", common.ErrCanceled),
		logger:       logger.With("component", "quorum checker"),
	}

	me := cfg.MemberAt(myIndex)
	if me.IsVoter() {
		c.voters = append(c.voters, me.Host)
	}
	if me.IsElectable() {
		c.numElectable = 1
	}

	if c.HasReceivedSufficientResponses() {
		c.onQuorumCheckComplete()
	}
	return c, nil
}

// FinalStatus returns the outcome of the quorum check: nil when the
// configuration can be adopted, an error describing why not otherwise.
// Valid only once HasReceivedSufficientResponses has become true.
func (c *Checker) FinalStatus() error {
	return c.finalErr
}

func (c *Checker) Requests() []model.RemoteRequest {
	if c.HasReceivedSufficientResponses() {
		return nil
	}

	me := c.cfg.MemberAt(c.myIndex)
	hbCmd := model.HeartbeatRequest{
		SetName:         c.cfg.SetName,
		ProtocolVersion: 1,
		ConfigVersion:   c.cfg.Version,
		CheckEmpty:      c.cfg.IsInitial(),
		SenderHost:      me.Host,
		SenderID:        me.ID,
	}

	// no need to check self for liveness
	requests := make([]model.RemoteRequest, 0, c.cfg.NumMembers()-1)
	for i := 0; i < c.cfg.NumMembers(); i++ {
		if i == c.myIndex {
			continue
		}
		requests = append(requests, model.RemoteRequest{
			Target:  c.cfg.MemberAt(i).Host,
			DBName:  "admin",
			Code:    model.Heartbeat,
			Command: hbCmd,
			Timeout: c.cfg.HeartbeatTimeoutPeriod(),
		})
	}
	return requests
}

func (c *Checker) ProcessResponse(req model.RemoteRequest, resp model.RemoteResponse) {
	c.tabulateHeartbeatResponse(req, resp)
	if c.HasReceivedSufficientResponses() {
		c.onQuorumCheckComplete()
	}
}

// HasReceivedSufficientResponses reports whether the tally already decides
// the check. It is monotonic over added responses.
func (c *Checker) HasReceivedSufficientResponses() bool {
	if c.vetoErr != nil || c.numResponses == c.cfg.NumMembers() {
		// vetoed or everybody has responded, all done
		return true
	}
	if c.cfg.IsInitial() {
		// initial configuration requires full response coverage,
		// there is no prior cluster to fall back on
		return false
	}
	if c.numElectable == 0 {
		// have not heard from at least one electable member, keep waiting
		return false
	}
	if len(c.voters) < c.cfg.MajorityVoteCount() {
		// have not heard from a majority of voters, keep waiting
		return false
	}

	return true
}

// tabulateHeartbeatResponse updates the tally from a single heartbeat
// response.
func (c *Checker) tabulateHeartbeatResponse(req model.RemoteRequest, resp model.RemoteResponse) {
	c.numResponses++

	if resp.Err != nil {
		c.logger.Warn("failed to complete heartbeat request", "target", req.Target, "error", resp.Err.Error())
		c.down = append(c.down, req.Target)
		return
	}

	hbResponse := model.HeartbeatResponse{}
	if err := model.Decode(resp.Doc, &hbResponse); err != nil {
		c.logger.Warn("bad heartbeat response", "target", req.Target, "error", err.Error())
		c.down = append(c.down, req.Target)
		return
	}

	if hbResponse.Mismatch {
		message := fmt.Sprintf("our set name did not match that of %s", req.Target)
		c.vetoErr = fmt.Errorf("%w: %s", common.ErrConfigIncompatible, message)
		c.logger.Warn(message)
		return
	}
	if hbResponse.SetName != "" {
		if hbResponse.ConfigVersion >= c.cfg.Version {
			// a remote node holds an equal or newer configuration; the
			// proposal with the lower version number defers
			message := fmt.Sprintf("our config version of %d is no larger than the version on %s, which is %d",
				c.cfg.Version, req.Target, hbResponse.ConfigVersion)
			c.vetoErr = fmt.Errorf("%w: %s", common.ErrConfigIncompatible, message)
			c.logger.Warn(message)
			return
		}
	}
	if !hbResponse.Ok {
		c.logger.Warn("got error response on heartbeat request", "target", req.Target)
		c.down = append(c.down, req.Target)
		return
	}

	member := c.cfg.FindMemberByHost(req.Target)
	if member == nil {
		// the request target list diverged from the configuration;
		// this is a programming error, not a runtime condition
		panic(fmt.Sprintf("heartbeat response from %s, which is not a member of the configuration", req.Target))
	}
	if member.IsElectable() {
		c.numElectable++
	}
	if member.IsVoter() {
		c.voters = append(c.voters, req.Target)
	}
}

// onQuorumCheckComplete computes the final status from the responses
// received so far. It runs once, after HasReceivedSufficientResponses has
// become true.
func (c *Checker) onQuorumCheckComplete() {
	if c.finalComputed {
		return
	}
	c.finalComputed = true

	if c.vetoErr != nil {
		c.finalErr = c.vetoErr
		return
	}
	if c.cfg.IsInitial() && len(c.down) > 0 {
		c.finalErr = fmt.Errorf("%w: could not contact the following nodes during replica set initiation: %s",
			common.ErrNodeNotFound, strings.Join(c.down, ", "))
		return
	}
	if c.numElectable == 0 {
		c.finalErr = fmt.Errorf("%w: quorum check failed because no electable nodes responded; at least one required for config",
			common.ErrNodeNotFound)
		return
	}
	if len(c.voters) < c.cfg.MajorityVoteCount() {
		if len(c.voters) == 0 {
			c.finalErr = fmt.Errorf("%w: quorum check failed because not enough voting nodes responded; required %d but none responded",
				common.ErrNodeNotFound, c.cfg.MajorityVoteCount())
		} else {
			c.finalErr = fmt.Errorf("%w: quorum check failed because not enough voting nodes responded; required %d but only the following %d voting nodes responded: %s",
				common.ErrNodeNotFound, c.cfg.MajorityVoteCount(), len(c.voters), strings.Join(c.voters, ", "))
		}
		return
	}

	c.finalErr = nil
}

// checkQuorumGeneral runs one quorum check round to completion.
func checkQuorumGeneral(exec executor.Executor, cfg *config.ReplicaConfig, myIndex int, logger *slog.Logger) error {
	checker, err := NewChecker(cfg, myIndex, logger)
	if err != nil {
		return err
	}

	runner := gather.NewRunner(checker, logger)
	if err := runner.Run(exec); err != nil {
		// scheduling failed; this takes precedence over the tally outcome
		return err
	}

	return checker.FinalStatus()
}

// CheckForInitiate confirms that cfg, an initial configuration, has
// sufficient live support to be adopted. Every member must be reachable.
func CheckForInitiate(exec executor.Executor, cfg *config.ReplicaConfig, myIndex int, logger *slog.Logger) error {
	if !cfg.IsInitial() {
		return fmt.Errorf("checking quorum for initiate, but configuration version is %d", cfg.Version)
	}
	return checkQuorumGeneral(exec, cfg, myIndex, logger)
}

// CheckForReconfig confirms that cfg, a reconfiguration, has sufficient
// live, electable and voting support to be adopted.
func CheckForReconfig(exec executor.Executor, cfg *config.ReplicaConfig, myIndex int, logger *slog.Logger) error {
	if cfg.IsInitial() {
		return fmt.Errorf("checking quorum for reconfig, but configuration version is %d", cfg.Version)
	}
	return checkQuorumGeneral(exec, cfg, myIndex, logger)
}
