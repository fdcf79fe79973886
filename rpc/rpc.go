package rpc

import (
	"net"

	"google.golang.org/grpc"

	"github.com/wfunc/babyfoot/logger"
)

// Server manages the gRPC listener.
type Server struct {
	listener   net.Listener
	address    string
	grpcServer *grpc.Server
}

// NewServer listens on addr and registers the Matchday service.
func NewServer(addr string, svc *Service) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, svc), nil
}

func NewServerWithListener(listener net.Listener, svc *Service) *Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary))
	gs.RegisterService(&ServiceDesc, svc)
	return &Server{
		listener:   listener,
		address:    listener.Addr().String(),
		grpcServer: gs,
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls and closes the listener.
func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.grpcServer.GracefulStop()
}
