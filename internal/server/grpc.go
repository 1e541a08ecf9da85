// Package server assembles the HTTP and gRPC servers of the claim engine.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/server/interceptors"
)

// NewGRPCServer returns a gRPC server exposing the standard health service backed by hs.
// Health probes are not logged.
func NewGRPCServer(logger *zap.Logger, hs *health.Server) *grpc.Server {
	logger = logging.OrNop(logger)
	skip := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(logger),
			interceptors.LoggingUnary(logger, skip),
		),
	)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
