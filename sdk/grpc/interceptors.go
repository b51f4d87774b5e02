package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

// LoggingUnaryServerInterceptor registra cada llamada unary con su duración.
func LoggingUnaryServerInterceptor(client *telemetry.Client) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []attribute.KeyValue{
			attribute.String("rpc.method", info.FullMethod),
			attribute.String("rpc.system", "grpc"),
			attribute.Int64("rpc.duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil {
			client.Error(ctx, "gRPC handler failed", err, attrs...)
		} else {
			client.Debug(ctx, "gRPC handler succeeded", attrs...)
		}
		return resp, err
	}
}

// LoggingStreamServerInterceptor registra apertura y cierre de streams (health Watch).
func LoggingStreamServerInterceptor(client *telemetry.Client) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)

		attrs := []attribute.KeyValue{
			attribute.String("rpc.method", info.FullMethod),
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.type", "stream"),
			attribute.Int64("rpc.duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil && status.Code(err) != codes.Canceled {
			client.Error(ss.Context(), "gRPC stream handler failed", err, attrs...)
		} else {
			client.Debug(ss.Context(), "gRPC stream handler completed", attrs...)
		}
		return err
	}
}

// RecoveryUnaryServerInterceptor convierte un panic del handler en codes.Internal.
func RecoveryUnaryServerInterceptor(client *telemetry.Client) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				client.Error(ctx, "gRPC handler panic", fmt.Errorf("%v", r),
					attribute.String("rpc.method", info.FullMethod))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// TracingUnaryServerInterceptor toma trace-id de la metadata o genera uno nuevo.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if traceID := getTraceIDFromMetadata(ctx); traceID != "" {
			ctx = SetTraceID(ctx, traceID)
		} else {
			ctx, _ = GetOrGenerateTraceID(ctx)
		}
		return handler(ctx, req)
	}
}

type contextKey string

const traceIDKey contextKey = "trace_id"

func getTraceIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("trace-id")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// SetTraceID establece trace_id en el contexto.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID obtiene trace_id del contexto.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetOrGenerateTraceID obtiene trace_id del contexto o genera uno nuevo.
func GetOrGenerateTraceID(ctx context.Context) (context.Context, string) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = utils.GenerateUUIDv7()
		ctx = SetTraceID(ctx, traceID)
	}
	return ctx, traceID
}
