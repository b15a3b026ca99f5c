// Package grpcapi serves the standard gRPC health protocol for the daemon
// and for the door controller link.
package grpcapi

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// DoorLinkService is the health service name reporting controller
// reachability.
const DoorLinkService = "smartdoor.DoorLink"

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *log.Logger
}

func NewServer(logger *log.Logger) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		logger:     logger,
	}
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(DoorLinkService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// grpcurl and grpc-health-probe discovery
	reflection.Register(s.grpcServer)
	return s
}

// SetLinkUp flips the DoorLink status.  It is the DoorMonitor health
// callback.
func (s *Server) SetLinkUp(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(DoorLinkService, status)
}

// Serve blocks until Stop is called or lis fails.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Printf("grpc health listening on %s", lis.Addr())
	return s.grpcServer.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
