package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"sync"
	"time"

	"github.com/silenceper/pool"
	"github.com/ugorji/go/codec"
	"golang.org/x/sync/errgroup"

	"github.com/danl5/goquorum/pkg/model"
)

const (
	// initial capacity of the pool
	poolInitCap = 0
	// maximum number of idle connections in the pool
	poolMaxIdle = 5
	// maximum time a connection can be idle before being closed
	poolMaxIdleTime = 15
	// maximum number of connections in the pool
	poolMaxCap = 20
)

// Request is the wire envelope of one command document.
type Request struct {
	// Code is the command code
	Code model.CommandCode `json:"code"`
	// Sender is the host:port of the sending member
	Sender string `json:"sender"`
	// Command is the request document
	Command any `json:"command"`
}

// Response is the wire envelope of one command response.
type Response struct {
	// CommandResponse is the response document
	CommandResponse any `json:"command_response"`
	// Error is non-empty when the command failed on the remote side
	Error string `json:"error,omitempty"`
}

// CommandHandler processes one inbound command request.
type CommandHandler func(request *Request, response *Response) error

// RPCHandler is the object registered with the rpc server.
type RPCHandler struct {
	CmdHandler CommandHandler
}

func (h *RPCHandler) Handle(request *Request, response *Response) error {
	return h.CmdHandler(request, response)
}

func (h *RPCHandler) Ping(_ struct{}, reply *string) error {
	*reply = "pong"
	return nil
}

// Server serves inbound command requests over msgpack rpc.
type Server struct {
	rpcHandler *RPCHandler
	logger     *slog.Logger
}

func NewServer(logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("new rpc server, logger is nil")
	}
	return &Server{
		logger: logger.With("component", "rpc server"),
	}, nil
}

// Start initiates the server to begin listening on the specified address.
func (s *Server) Start(listenAddress string, handler CommandHandler, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.rpcHandler = &RPCHandler{
		CmdHandler: handler,
	}

	tlsConfig, err := loadServerTLSConfig(cfg)
	if err != nil {
		return err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.Register(s.rpcHandler); err != nil {
		return err
	}

	var l net.Listener
	if tlsConfig != nil {
		l, err = tls.Listen("tcp", listenAddress, tlsConfig)
	} else {
		l, err = net.Listen("tcp", listenAddress)
	}
	if err != nil {
		s.logger.Error("failed to start rpc server", "error", err.Error())
		return err
	}

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				s.logger.Error("failed to accept rpc connection", "error", err.Error())
				return
			}

			rpcCodec := codec.MsgpackSpecRpc.ServerCodec(conn, &codec.MsgpackHandle{})
			go rpcServer.ServeCodec(rpcCodec)
		}
	}()

	s.logger.Info("rpc server started", "listenAddress", listenAddress)
	return nil
}

// Network is the client side of the command transport. It keeps a pool of
// connections per target member and implements executor.NetworkInterface.
type Network struct {
	cfg    *Config
	sender string

	// target host:port -> pool.Pool
	clients sync.Map

	logger *slog.Logger
}

func NewNetwork(cfg *Config, sender string, logger *slog.Logger) (*Network, error) {
	if logger == nil {
		return nil, fmt.Errorf("new rpc network, logger is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Network{
		cfg:    cfg,
		sender: sender,
		logger: logger.With("component", "rpc network"),
	}, nil
}

// InitConnections initializes connection pools to the given targets.
// It returns an error if any pool fails to initialize.
func (n *Network) InitConnections(targets []string) error {
	g := errgroup.Group{}
	for _, target := range targets {
		target := target
		g.Go(func() error {
			p, err := n.createPool(target)
			if err != nil {
				n.logger.Error("error connecting to member", "target", target, "error", err.Error())
				return err
			}
			n.clients.Store(target, p)
			return nil
		})
	}
	return g.Wait()
}

// RunCommand sends the request document to its target and returns the
// response document. The call is abandoned when ctx is done.
func (n *Network) RunCommand(ctx context.Context, req model.RemoteRequest) (any, error) {
	client, err := n.getClient(req.Target)
	if err != nil {
		return nil, err
	}

	response := &Response{}
	call := client.Go("RPCHandler.Handle", &Request{
		Code:    req.Code,
		Sender:  n.sender,
		Command: req.Command,
	}, response, make(chan *rpc.Call, 1))

	select {
	case <-ctx.Done():
		// the connection may still carry the stale reply; drop it
		_ = client.Close()
		return nil, ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to call rpc handler: %s", call.Error.Error())
	}

	if err := n.putClient(req.Target, client); err != nil {
		n.logger.Error("failed to put rpc client back to pool", "error", err.Error())
	}

	if response.Error != "" {
		return nil, errors.New(response.Error)
	}

	n.logger.Debug("sent rpc request", "command", req.Code.String(), "to", req.Target)
	return response.CommandResponse, nil
}

func (n *Network) createPool(target string) (pool.Pool, error) {
	poolConfig := &pool.Config{
		InitialCap:  poolInitCap,
		MaxIdle:     poolMaxIdle,
		MaxCap:      poolMaxCap,
		IdleTimeout: poolMaxIdleTime * time.Second,
		Factory: func() (interface{}, error) {
			tlsConfig, err := loadClientTLSConfig(n.cfg)
			if err != nil {
				return nil, err
			}
			dialer := &net.Dialer{
				Timeout: time.Duration(n.cfg.ConnectTimeout) * time.Second,
			}
			var conn net.Conn
			if tlsConfig != nil {
				conn, err = tls.DialWithDialer(dialer, "tcp", target, tlsConfig)
			} else {
				conn, err = dialer.Dial("tcp", target)
			}
			if err != nil {
				return nil, err
			}

			rpcCodec := codec.MsgpackSpecRpc.ClientCodec(conn, &codec.MsgpackHandle{})
			return rpc.NewClientWithCodec(rpcCodec), nil
		},
		Close: func(v interface{}) error { return v.(*rpc.Client).Close() },
		Ping: func(v interface{}) error {
			var reply string
			return v.(*rpc.Client).Call("RPCHandler.Ping", struct{}{}, &reply)
		},
	}
	return pool.NewChannelPool(poolConfig)
}

func (n *Network) getClient(target string) (*rpc.Client, error) {
	clientPoolInf, ok := n.clients.Load(target)
	if !ok {
		// connections may not have been initialized for this target yet
		p, err := n.createPool(target)
		if err != nil {
			return nil, fmt.Errorf("cannot connect to %s: %s", target, err.Error())
		}
		clientPoolInf, _ = n.clients.LoadOrStore(target, p)
	}
	clientPool := clientPoolInf.(pool.Pool)
	conn, err := clientPool.Get()
	if err != nil {
		return nil, fmt.Errorf("cannot get client from pool for %s: %s", target, err.Error())
	}

	return conn.(*rpc.Client), nil
}

func (n *Network) putClient(target string, client *rpc.Client) error {
	clientPoolInf, ok := n.clients.Load(target)
	if !ok {
		return fmt.Errorf("no client pool found for %s", target)
	}
	return clientPoolInf.(pool.Pool).Put(client)
}

func loadServerTLSConfig(cfg *Config) (*tls.Config, error) {
	if cfg.Cert == "" || cfg.Key == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
	caCertPool, err := loadCertPool(cfg.CAs)
	if err != nil {
		return nil, err
	}
	config.ClientCAs = caCertPool
	if cfg.SkipVerify {
		config.ClientAuth = tls.NoClientCert
	}

	return config, nil
}

func loadClientTLSConfig(cfg *Config) (*tls.Config, error) {
	if cfg.Cert == "" || cfg.Key == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	caCertPool, err := loadCertPool(cfg.CAs)
	if err != nil {
		return nil, err
	}
	config.RootCAs = caCertPool
	config.InsecureSkipVerify = cfg.SkipVerify

	return config, nil
}

func loadCertPool(cas []string) (*x509.CertPool, error) {
	caCertPool := x509.NewCertPool()
	for _, ca := range cas {
		caCert, err := os.ReadFile(ca)
		if err != nil {
			return nil, err
		}
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("bad CA certificate %s", ca)
		}
	}
	return caCertPool, nil
}
