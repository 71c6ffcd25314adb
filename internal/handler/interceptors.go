package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
)

// RecoveryInterceptor turns handler panics into codes.Internal.
func RecoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("method", info.FullMethod).Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, internalMessage)
			}
		}()
		return next(ctx, req)
	}
}

// LoggingInterceptor logs every unary call with its caller, code and latency.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		log.Info().
			Str("method", info.FullMethod).
			Str("actor_id", actorID(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}
