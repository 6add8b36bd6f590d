package quorum

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/goquorum/pkg/common"
	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/executor"
	"github.com/danl5/goquorum/pkg/gather"
	"github.com/danl5/goquorum/pkg/model"
)

type testMember struct {
	host     string
	noVote   bool
	priority int
}

func newTestConfig(version int64, members ...testMember) *config.ReplicaConfig {
	cfg := &config.ReplicaConfig{
		SetName: "rs0",
		Version: version,
	}
	for i, m := range members {
		cfg.Members = append(cfg.Members, config.MemberConfig{
			ID:       int64(i + 1),
			Host:     m.host,
			NoVote:   m.noVote,
			Priority: m.priority,
		})
	}
	return cfg
}

func voter(host string) testMember {
	return testMember{host: host, priority: 1}
}

func newTestExecutor(t *testing.T, net *executor.NetworkMock) *executor.TaskExecutor {
	t.Helper()
	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		exec.Shutdown()
		net.UnblockAll()
		exec.Join()
	})
	return exec
}

func TestCheckForInitiate_SingleNode(t *testing.T) {
	// a single-member initiate needs no network traffic at all
	cfg := newTestConfig(1, voter("h1"))
	net := executor.NewNetworkMock()
	exec := newTestExecutor(t, net)

	err := CheckForInitiate(exec, cfg, 0, slog.Default())
	assert.NoError(t, err)
}

func TestCheckForInitiate_AllRespond(t *testing.T) {
	cfg := newTestConfig(1, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForInitiate(exec, cfg, 0, slog.Default())
	assert.NoError(t, err)
}

func TestCheckForInitiate_OneNodeDown(t *testing.T) {
	// an initial configuration requires every member to be reachable
	cfg := newTestConfig(1, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h3", model.Heartbeat, nil, errors.New("no route to host"))
	exec := newTestExecutor(t, net)

	err := CheckForInitiate(exec, cfg, 0, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNodeNotFound)
	assert.Contains(t, err.Error(), "h3")
	assert.NotContains(t, err.Error(), "h2")
}

func TestCheckForInitiate_RejectsReconfigVersion(t *testing.T) {
	cfg := newTestConfig(2, voter("h1"))
	net := executor.NewNetworkMock()
	exec := newTestExecutor(t, net)

	err := CheckForInitiate(exec, cfg, 0, slog.Default())
	assert.Error(t, err)
}

func TestCheckForReconfig_EarlyExitOnMajority(t *testing.T) {
	// a majority of voters plus one electable responder decides a
	// reconfiguration before the slow members have answered
	cfg := newTestConfig(2, voter("h1"), voter("h2"), voter("h3"), voter("h4"), voter("h5"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	// h4 and h5 never answer
	net.AddBlockedResponse("h4", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddBlockedResponse("h5", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	assert.NoError(t, err)
}

func TestCheckForReconfig_VetoOnSetNameMismatch(t *testing.T) {
	// a single mismatch response vetoes the whole check, no further
	// waiting is required
	cfg := newTestConfig(2, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: false, Mismatch: true}, nil)
	net.AddBlockedResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfigIncompatible)
	assert.Contains(t, err.Error(), "h2")
}

func TestCheckForReconfig_VetoOnNewerRemoteVersion(t *testing.T) {
	cfg := newTestConfig(2, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true, SetName: "rs0", ConfigVersion: 2}, nil)
	net.AddResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfigIncompatible)
	assert.Contains(t, err.Error(), "no larger")
}

func TestCheckForReconfig_OlderRemoteVersionIsFine(t *testing.T) {
	cfg := newTestConfig(3, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true, SetName: "rs0", ConfigVersion: 2}, nil)
	net.AddResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	assert.NoError(t, err)
}

func TestCheckForReconfig_NoElectableResponders(t *testing.T) {
	// nobody in the proposed configuration can become primary
	cfg := newTestConfig(2,
		testMember{host: "h1", priority: 0},
		testMember{host: "h2", priority: 0},
		testMember{host: "h3", priority: 0},
	)
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNodeNotFound)
	assert.Contains(t, err.Error(), "no electable nodes responded")
}

func TestCheckForReconfig_NotEnoughVoters(t *testing.T) {
	// every member responded but too few of them were reachable voters
	cfg := newTestConfig(2, voter("h1"), voter("h2"), voter("h3"), voter("h4"), voter("h5"))
	net := executor.NewNetworkMock()
	net.AddResponse("h2", model.Heartbeat, nil, errors.New("connection refused"))
	net.AddResponse("h3", model.Heartbeat, nil, errors.New("connection refused"))
	net.AddResponse("h4", model.Heartbeat, model.HeartbeatResponse{Ok: false}, nil)
	net.AddResponse("h5", model.Heartbeat, nil, errors.New("connection refused"))
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNodeNotFound)
	assert.Contains(t, err.Error(), "not enough voting nodes responded")
	assert.Contains(t, err.Error(), "h1")
}

func TestChecker_ShutdownReleasesWaiter(t *testing.T) {
	cfg := newTestConfig(2, voter("h1"), voter("h2"), voter("h3"))
	net := executor.NewNetworkMock()
	net.AddBlockedResponse("h2", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)
	net.AddBlockedResponse("h3", model.Heartbeat, model.HeartbeatResponse{Ok: true}, nil)

	exec, err := executor.NewTaskExecutor(net, slog.Default())
	require.NoError(t, err)

	checker, err := NewChecker(cfg, 0, slog.Default())
	require.NoError(t, err)
	runner := gather.NewRunner(checker, slog.Default())

	var (
		evh      *executor.Event
		startErr error
	)
	scheduled, err := exec.ScheduleWork(func(cbErr error) {
		if cbErr != nil {
			startErr = cbErr
			return
		}
		evh, startErr = runner.Start(exec)
	})
	require.NoError(t, err)
	scheduled.Wait()
	require.NoError(t, startErr)

	exec.Shutdown()
	net.UnblockAll()
	evh.Wait()
	exec.Join()

	// the round resolves with whatever was tallied before shutdown:
	// both probes canceled, so not enough voters responded
	checkErr := checker.FinalStatus()
	require.Error(t, checkErr)
	assert.ErrorIs(t, checkErr, common.ErrNodeNotFound)
}

func TestCheckForReconfig_RejectsInitialVersion(t *testing.T) {
	cfg := newTestConfig(1, voter("h1"))
	net := executor.NewNetworkMock()
	exec := newTestExecutor(t, net)

	err := CheckForReconfig(exec, cfg, 0, slog.Default())
	assert.Error(t, err)
}
