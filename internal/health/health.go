// Package health serves the standard gRPC health protocol for the bridge.
//
// Three services are reported: "radio", "broker" and the overall service
// (empty name), which is SERVING only while both links are up. Once
// Shutdown is called every service reads NOT_SERVING and further updates
// are ignored.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service names reported alongside the overall status.
const (
	ServiceRadio  = "radio"
	ServiceBroker = "broker"
)

// stopGrace bounds how long Close waits for in-flight RPCs before forcing.
const stopGrace = 2 * time.Second

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	status *grpchealth.Server
	logger *slog.Logger

	mu       sync.Mutex
	radio    bool
	broker   bool
	shutdown bool
}

// Options configures New.
type Options struct {
	// Reflection registers the gRPC reflection service so grpcurl and
	// similar tools can discover the health API.
	Reflection bool
	Logger     *slog.Logger
}

// New creates a health server with every service NOT_SERVING.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
		),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if opts.Reflection {
		reflection.Register(srv)
	}

	s := &Server{grpc: srv, status: hs, logger: logger}
	s.publishLocked()
	return s
}

// SetRadio records whether the radio link is up.
func (s *Server) SetRadio(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radio = up
	s.publishLocked()
}

// SetBroker records whether the broker session is up.
func (s *Server) SetBroker(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker = up
	s.publishLocked()
}

func (s *Server) publishLocked() {
	if s.shutdown {
		return
	}
	s.status.SetServingStatus(ServiceRadio, servingStatus(s.radio))
	s.status.SetServingStatus(ServiceBroker, servingStatus(s.broker))
	s.status.SetServingStatus("", servingStatus(s.radio && s.broker))
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on lis until Close. It returns nil after a
// normal Close.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("health: serving", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}

// Listen binds addr and serves on a background goroutine. Serve errors
// after a successful bind are logged.
func (s *Server) Listen(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("health: server stopped", "err", err)
		}
	}()
	return lis.Addr(), nil
}

// Shutdown marks every service NOT_SERVING and freezes the status. The
// server keeps answering until Close.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	s.status.Shutdown()
}

// Close shuts down and stops the gRPC server. Open Watch streams are cut
// after a short grace period.
func (s *Server) Close() error {
	s.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpc.Stop()
		<-done
	}
	return nil
}
