package internal

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/grpc"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
)

// healthServiceName es el servicio publicado en grpc.health.v1 además del estado global.
const healthServiceName = "echo-bridge"

// healthServer publica el estado del core por grpc.health.v1.
type healthServer struct {
	server    *grpc.Server
	telemetry *telemetry.Client
}

func newHealthServer(cfg GRPCConfig, tel *telemetry.Client) (*healthServer, error) {
	serverCfg := grpc.DefaultServerConfig(cfg.Port)
	if cfg.Address != "" {
		serverCfg.Address = cfg.Address
	}
	serverCfg.UnaryInterceptors = append(serverCfg.UnaryInterceptors,
		grpc.RecoveryUnaryServerInterceptor(tel),
		grpc.TracingUnaryServerInterceptor(),
		grpc.LoggingUnaryServerInterceptor(tel),
	)
	serverCfg.StreamInterceptors = append(serverCfg.StreamInterceptors,
		grpc.LoggingStreamServerInterceptor(tel),
	)

	server, err := grpc.NewServer(serverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC health server: %w", err)
	}
	h := &healthServer{server: server, telemetry: tel}
	h.setServing(false)
	return h, nil
}

func (h *healthServer) setServing(serving bool) {
	h.server.SetServingStatus("", serving)
	h.server.SetServingStatus(healthServiceName, serving)
}

// Serve marca SERVING y bloquea hasta que ctx se cancele. Al salir, el servidor del sdk
// marca NOT_SERVING y hace graceful stop.
func (h *healthServer) Serve(ctx context.Context) error {
	h.setServing(true)
	h.telemetry.Info(ctx, "gRPC health server listening",
		semconv.Bridge.Component.String(semconv.ComponentValues.Core),
		attribute.String("address", h.server.Address()),
	)
	return h.server.Serve(ctx)
}

