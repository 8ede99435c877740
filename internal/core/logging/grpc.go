package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor attaches a request logger to the handler context
// and logs each call with its method, tenant, status code and duration.
// tenant extracts the caller's tenant id and may be nil.
func UnaryServerInterceptor(l zerolog.Logger, tenant func(context.Context) string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		fields := l.With().Str("method", info.FullMethod)
		if tenant != nil {
			if id := tenant(ctx); id != "" {
				fields = fields.Str("tenant_id", id)
			}
		}
		reqLogger := fields.Logger()

		resp, err := handler(WithContext(ctx, reqLogger), req)

		code := status.Code(err)
		event := reqLogger.Info()
		switch code {
		case codes.OK, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition:
		case codes.Internal, codes.Unknown, codes.DataLoss:
			event = reqLogger.Error().Err(err)
		default:
			event = reqLogger.Warn().Err(err)
		}
		event.Str("code", code.String()).Dur("duration", time.Since(start)).Msg("grpc call")

		return resp, err
	}
}
