package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServerConfig configuración para servidor gRPC.
type ServerConfig struct {
	// Port puerto del servidor (0 = puerto efímero)
	Port int

	// Address dirección de bind (ej: "0.0.0.0", "127.0.0.1")
	Address string

	// KeepAlive configuración de keepalive
	KeepAlive *ServerKeepAliveConfig

	// ShutdownGracePeriod periodo de gracia para shutdown
	ShutdownGracePeriod time.Duration

	// UnaryInterceptors interceptors para llamadas unary
	UnaryInterceptors []grpc.UnaryServerInterceptor

	// StreamInterceptors interceptors para streams
	StreamInterceptors []grpc.StreamServerInterceptor
}

// ServerKeepAliveConfig configuración de keepalive del servidor.
type ServerKeepAliveConfig struct {
	MaxConnectionIdle     time.Duration
	MaxConnectionAge      time.Duration
	MaxConnectionAgeGrace time.Duration
	Time                  time.Duration
	Timeout               time.Duration
}

// DefaultServerConfig retorna configuración por defecto.
func DefaultServerConfig(port int) *ServerConfig {
	return &ServerConfig{
		Port:                port,
		Address:             "0.0.0.0",
		ShutdownGracePeriod: 10 * time.Second,
		KeepAlive: &ServerKeepAliveConfig{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAgeGrace: 1 * time.Minute,
			Time:                  2 * time.Hour,
			Timeout:               20 * time.Second,
		},
	}
}

// Server wrapper sobre grpc.Server con el servicio estándar de health registrado.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	config     *ServerConfig
	listener   net.Listener
}

// NewServer crea el servidor, registra grpc.health.v1 y abre el listener.
//
// Example:
//
//	server, err := grpc.NewServer(grpc.DefaultServerConfig(50061))
//	if err != nil {
//	    return err
//	}
//	server.SetServingStatus("echo-bridge", true)
//	return server.Serve(ctx)
func NewServer(config *ServerConfig) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opts := []grpc.ServerOption{}

	if config.KeepAlive != nil {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     config.KeepAlive.MaxConnectionIdle,
			MaxConnectionAge:      config.KeepAlive.MaxConnectionAge,
			MaxConnectionAgeGrace: config.KeepAlive.MaxConnectionAgeGrace,
			Time:                  config.KeepAlive.Time,
			Timeout:               config.KeepAlive.Timeout,
		}))
		opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}))
	}

	if len(config.UnaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(config.UnaryInterceptors...))
	}
	if len(config.StreamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(config.StreamInterceptors...))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	address := net.JoinHostPort(config.Address, fmt.Sprintf("%d", config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		config:     config,
		listener:   listener,
	}, nil
}

// GRPCServer retorna el servidor gRPC subyacente.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address retorna la dirección efectiva del listener.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// SetServingStatus publica el estado de un servicio ("" es el estado global).
func (s *Server) SetServingStatus(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Serve bloquea hasta que el servidor falle o el contexto se cancele.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown marca todos los servicios como NOT_SERVING y hace graceful stop
// acotado por ShutdownGracePeriod.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	timeout := s.config.ShutdownGracePeriod
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		s.grpcServer.Stop()
		return fmt.Errorf("forced shutdown after %v", timeout)
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}
