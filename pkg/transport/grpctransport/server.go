package grpctransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/darlean-io/darlean-go/pkg/dlog"
	"github.com/darlean-io/darlean-go/pkg/transport"
)

// ServerConfig configures a Server. Grounded on substrate's
// internal/api/grpc.ServerConfig keepalive knobs.
type ServerConfig struct {
	ListenAddr        string
	ServerPingTime    time.Duration
	ServerPingTimeout time.Duration
}

// DefaultServerConfig mirrors substrate's DefaultServerConfig defaults.
func DefaultServerConfig(listenAddr string) ServerConfig {
	return ServerConfig{
		ListenAddr:        listenAddr,
		ServerPingTime:    5 * time.Minute,
		ServerPingTimeout: time.Minute,
	}
}

// Server hosts this node's own InvokeRequest handler over gRPC, fed by a
// transport.Handler supplied by the application (in practice, pkg/wrapper
// invocation dispatch via pkg/container.MultiType).
type Server struct {
	cfg     ServerConfig
	handler transport.Handler
	log     *dlog.Logger

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewServer constructs a Server around the given handler.
func NewServer(cfg ServerConfig, handler transport.Handler, log *dlog.Logger) *Server {
	return &Server{cfg: cfg, handler: handler, log: log}
}

// Invoke implements envelopeServer: it runs this node's handler for the
// request carried in the envelope and returns the resulting
// InvokeResponse directly (application and framework errors alike travel
// inside it as data, per spec §6 — never as a gRPC status error).
func (s *Server) Invoke(ctx context.Context, env *transport.Envelope) (*transport.InvokeResponse, error) {
	resp := s.handler(ctx, env.Content)
	return &resp, nil
}

// Start begins listening and serving.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("grpctransport: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    s.cfg.ServerPingTime,
		Timeout: s.cfg.ServerPingTimeout,
	}))
	s.grpcServer.RegisterService(&serviceDesc, s)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(lis); err != nil {
			s.log.Warn("grpc server stopped")
		}
	}()
	return nil
}

// Stop gracefully stops the server and waits for Serve to return.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()
	if srv == nil {
		return
	}
	srv.GracefulStop()
	s.wg.Wait()
}
