package goquorum

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danl5/goquorum/pkg/common"
	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/election"
	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/model"
	"github.com/danl5/goquorum/pkg/quorum"
	"github.com/danl5/goquorum/pkg/transport/rpc"
)

// Node is one member process of a replica set. It answers heartbeat and
// elect commands from its peers and can run quorum checks and election
// attempts of its own.
type Node struct {
	cfg     *config.ReplicaConfig
	myIndex int

	exec    *executor.TaskExecutor
	network *rpc.Network
	server  *rpc.Server
	elector *election.Elector

	// transportConfig is the transport configuration
	transportConfig *rpc.Config

	logger *slog.Logger
}

// NewNode creates a Node for the member of cfg whose host is selfHost.
func NewNode(cfg *config.ReplicaConfig, selfHost string, transportConfig *rpc.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		return nil, fmt.Errorf("new node, logger is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	myIndex := -1
	for i := 0; i < cfg.NumMembers(); i++ {
		if cfg.MemberAt(i).Host == selfHost {
			myIndex = i
			break
		}
	}
	if myIndex < 0 {
		return nil, fmt.Errorf("new node, %s is not a member of the configuration", selfHost)
	}

	network, err := rpc.NewNetwork(transportConfig, selfHost, logger)
	if err != nil {
		return nil, err
	}
	server, err := rpc.NewServer(logger)
	if err != nil {
		return nil, err
	}
	exec, err := executor.NewTaskExecutor(network, logger)
	if err != nil {
		return nil, err
	}
	elector, err := election.NewElector(exec, cfg, myIndex, logger)
	if err != nil {
		return nil, err
	}

	return &Node{
		cfg:             cfg,
		myIndex:         myIndex,
		exec:            exec,
		network:         network,
		server:          server,
		elector:         elector,
		transportConfig: transportConfig,
		logger:          logger.With("component", "node"),
	}, nil
}

// Run starts the command server and connects to the other members.
func (n *Node) Run() error {
	me := n.cfg.MemberAt(n.myIndex)
	if err := n.server.Start(me.Host, n.handleCommand, n.transportConfig); err != nil {
		n.logger.Error("failed to start command server", "error", err.Error())
		return err
	}

	var targets []string
	for i := 0; i < n.cfg.NumMembers(); i++ {
		if i == n.myIndex {
			continue
		}
		targets = append(targets, n.cfg.MemberAt(i).Host)
	}
	if err := n.network.InitConnections(targets); err != nil {
		n.logger.Error("failed to init connections", "error", err.Error())
		return err
	}

	n.logger.Info("node started", "host", me.Host, "set", n.cfg.SetName)
	return nil
}

// CheckQuorum confirms that the proposed configuration has sufficient live,
// electable and voting support to be adopted. The local member must appear
// in the proposed configuration.
func (n *Node) CheckQuorum(proposed *config.ReplicaConfig) error {
	if err := proposed.Validate(); err != nil {
		return err
	}

	me := n.cfg.MemberAt(n.myIndex)
	myIndex := -1
	for i := 0; i < proposed.NumMembers(); i++ {
		if proposed.MemberAt(i).Host == me.Host {
			myIndex = i
			break
		}
	}
	if myIndex < 0 {
		return fmt.Errorf("check quorum, %s is not a member of the proposed configuration", me.Host)
	}

	if proposed.IsInitial() {
		return quorum.CheckForInitiate(n.exec, proposed, myIndex, n.logger)
	}
	return quorum.CheckForReconfig(n.exec, proposed, myIndex, n.logger)
}

// RunElection runs one election attempt and reports whether it was won.
func (n *Node) RunElection(ctx context.Context) (bool, error) {
	return n.elector.Elect(ctx)
}

// CurrentState returns the current role of the local member.
func (n *Node) CurrentState() string {
	return n.elector.CurrentState()
}

// Close shuts the executor down, canceling any outstanding round, and waits
// for the callback loop to drain.
func (n *Node) Close() {
	n.exec.Shutdown()
	n.exec.Join()
}

// handleCommand dispatches one inbound command request.
func (n *Node) handleCommand(request *rpc.Request, response *rpc.Response) error {
	switch request.Code {
	case model.Heartbeat:
		n.logger.Debug("receive heartbeat request", "peer", request.Sender)
		hbRequest := &model.HeartbeatRequest{}
		if err := model.Decode(request.Command, hbRequest); err != nil {
			n.logger.Error("failed to decode heartbeat request", "error", err.Error())
			response.Error = fmt.Errorf("%w: %s", common.ErrBadCommand, err.Error()).Error()
			return nil
		}
		resp := &model.HeartbeatResponse{}
		n.handleHeartbeat(hbRequest, resp)
		response.CommandResponse = resp
		return nil
	case model.Elect:
		n.logger.Info("receive elect request", "peer", request.Sender)
		electRequest := &model.ElectRequest{}
		if err := model.Decode(request.Command, electRequest); err != nil {
			n.logger.Error("failed to decode elect request", "error", err.Error())
			response.Error = fmt.Errorf("%w: %s", common.ErrBadCommand, err.Error()).Error()
			return nil
		}
		resp := &model.ElectResponse{}
		n.handleElect(electRequest, resp)
		response.CommandResponse = resp
		return nil
	}

	response.Error = fmt.Errorf("%w: unknown command code %d", common.ErrBadCommand, request.Code).Error()
	return nil
}

// handleHeartbeat answers a liveness probe from a peer.
func (n *Node) handleHeartbeat(args *model.HeartbeatRequest, reply *model.HeartbeatResponse) {
	if args.SetName != n.cfg.SetName {
		n.logger.Warn("heartbeat set name mismatch", "peer set", args.SetName, "self set", n.cfg.SetName)
		reply.Ok = false
		reply.Mismatch = true
		return
	}

	// advertise our own configuration so a proposer with a stale version
	// can defer
	model.HeartbeatReply(reply, true, n.cfg.SetName, n.cfg.Version)
}

// handleElect answers a vote request from a candidate peer.
func (n *Node) handleElect(args *model.ElectRequest, reply *model.ElectResponse) {
	var vote int64 = 1
	switch {
	case args.SetName != n.cfg.SetName:
		n.logger.Warn("refusing vote, set name mismatch", "peer set", args.SetName)
		vote = -10000
	case args.ConfigVersion < n.cfg.Version:
		n.logger.Warn("refusing vote, stale configuration", "peer version", args.ConfigVersion, "self version", n.cfg.Version)
		vote = -10000
	default:
		n.logger.Info("voting for", "candidate", args.Who, "round", args.Round)
	}

	model.ElectReply(reply, true, vote, args.Round)
}
