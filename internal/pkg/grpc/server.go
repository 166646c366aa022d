package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// ServiceName is the health service name of the autorole worker.
const ServiceName = "roleinvite.Autorole"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

type Server struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	address  string
	log      *logger.Logger
}

func NewServer(address string, log *logger.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return newServer(listener, log), nil
}

func newServer(listener net.Listener, log *logger.Logger) *Server {
	s := &Server{
		health:   health.NewServer(),
		listener: listener,
		address:  listener.Addr().String(),
		log:      log.Named("grpc"),
	}
	s.server = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryLoggingInterceptor),   // 一元 RPC 日志拦截器
		grpc.StreamInterceptor(s.streamLoggingInterceptor), // 流式 RPC 日志拦截器
	)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

func (s *Server) unaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	resp, err = handler(ctx, req)
	s.log.Debug("gRPC call",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.Stringer("code", codeOf(err)))
	return resp, err
}

func (s *Server) streamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.log.Debug("gRPC stream call",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.Stringer("code", codeOf(err)))
	return err
}

// SetServing flips the autorole service status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Watch runs probes every interval and reports SERVING only while all pass.
func (s *Server) Watch(ctx context.Context, interval time.Duration, probes map[string]Probe) {
	check := func() {
		ok := true
		for name, probe := range probes {
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := probe(pctx)
			cancel()
			if err != nil {
				ok = false
				s.log.Warn("Health probe failed", zap.String("probe", name), zap.Error(err))
			}
		}
		s.SetServing(ok)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *Server) Start() error {
	s.log.Info("Starting gRPC server", zap.String("address", s.address))
	return s.server.Serve(s.listener)
}

func (s *Server) Stop() {
	s.log.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Address is the bound listen address.
func (s *Server) Address() string {
	return s.address
}
