package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/danl5/goquorum/pkg/model"
)

// NetworkMock is a NetworkInterface that serves canned responses, keyed by
// target and command code. Responses can be registered as blocked; a blocked
// response is not delivered until UnblockAll is called or the request's
// context is canceled.
type NetworkMock struct {
	mu        sync.Mutex
	responses map[string]*mockResponse

	unblockOnce sync.Once
	unblock     chan struct{}
}

type mockResponse struct {
	doc     any
	err     error
	blocked bool
}

func NewNetworkMock() *NetworkMock {
	return &NetworkMock{
		responses: make(map[string]*mockResponse),
		unblock:   make(chan struct{}),
	}
}

// AddResponse registers the response for commands of the given code sent to
// target. Register err to simulate a transport failure.
func (m *NetworkMock) AddResponse(target string, code model.CommandCode, doc any, err error) {
	m.addResponse(target, code, &mockResponse{doc: doc, err: err})
}

// AddBlockedResponse registers a response that is withheld until UnblockAll.
func (m *NetworkMock) AddBlockedResponse(target string, code model.CommandCode, doc any, err error) {
	m.addResponse(target, code, &mockResponse{doc: doc, err: err, blocked: true})
}

// UnblockAll releases every blocked response, current and future.
func (m *NetworkMock) UnblockAll() {
	m.unblockOnce.Do(func() {
		close(m.unblock)
	})
}

func (m *NetworkMock) RunCommand(ctx context.Context, req model.RemoteRequest) (any, error) {
	m.mu.Lock()
	resp, ok := m.responses[mockKey(req.Target, req.Code)]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("network mock: no response registered for %s command to %s", req.Code, req.Target)
	}
	if resp.blocked {
		select {
		case <-m.unblock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.doc, nil
}

func (m *NetworkMock) addResponse(target string, code model.CommandCode, resp *mockResponse) {
	m.mu.Lock()
	m.responses[mockKey(target, code)] = resp
	m.mu.Unlock()
}

func mockKey(target string, code model.CommandCode) string {
	return target + "/" + code.String()
}
