// Package health serves the standard gRPC health protocol for the phone.
// The overall status is SERVING only while the device is registered.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sebas/agentphone/internal/softphone/session"
)

// Service is the name reported for the phone itself, next to the
// overall "" entry.
const Service = "agentphone.Softphone"

// Server wraps a gRPC server exposing grpc.health.v1.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// New creates the health server in NOT_SERVING.
func New() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		log:    slog.Default(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("[Health] gRPC health service listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Check reports the current status of service.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	res, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

func (s *Server) OnDeviceReady() {
	s.set(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) OnDeviceError(err error) {
	s.log.Warn("[Health] Device not serving", "error", err)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) OnIncomingCall(session.IncomingCallNotice) {}
func (s *Server) OnCallStateChange(session.CallState)       {}
func (s *Server) OnCallEnded(session.EndedCall)             {}

// Ensure Server implements session.Observer
var _ session.Observer = (*Server)(nil)
