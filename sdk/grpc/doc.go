// Package grpc provee el servidor gRPC del bridge.
//
// El bridge no expone servicios de negocio por gRPC: los agentes usan HTTP polling.
// El servidor publica el protocolo estándar grpc.health.v1 para que orquestadores
// y balanceadores consulten el estado del proceso, con keepalive e interceptors
// de logging, recovery y trace-id.
//
//	config := grpc.DefaultServerConfig(50061)
//	config.UnaryInterceptors = []grpc.UnaryServerInterceptor{
//	    grpc.RecoveryUnaryServerInterceptor(telemetryClient),
//	    grpc.TracingUnaryServerInterceptor(),
//	    grpc.LoggingUnaryServerInterceptor(telemetryClient),
//	}
//	server, err := grpc.NewServer(config)
//	if err != nil {
//	    return err
//	}
//	server.SetServingStatus("", true)
//	go server.Serve(ctx)
package grpc
