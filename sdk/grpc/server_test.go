package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xKoRx/echo-bridge/sdk/telemetry"
)

func TestServerPublishesHealth(t *testing.T) {
	tel := telemetry.NewNoop(nil)
	config := DefaultServerConfig(0)
	config.Address = "127.0.0.1"
	config.UnaryInterceptors = []grpc.UnaryServerInterceptor{
		RecoveryUnaryServerInterceptor(tel),
		LoggingUnaryServerInterceptor(tel),
	}
	server, err := NewServer(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	server.SetServingStatus("echo-bridge", true)

	conn, err := grpc.NewClient(server.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: "echo-bridge"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	server.SetServingStatus("echo-bridge", false)
	resp, err = healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: "echo-bridge"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRecoveryInterceptorConvertsPanic(t *testing.T) {
	interceptor := RecoveryUnaryServerInterceptor(telemetry.NewNoop(nil))
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			panic("boom")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestTracingInterceptorPropagatesTraceID(t *testing.T) {
	interceptor := TracingUnaryServerInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("trace-id", "abc"))

	var seen string
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = GetTraceID(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", seen)

	_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = GetTraceID(ctx)
		return nil, nil
	})
	assert.NotEmpty(t, seen)
}
