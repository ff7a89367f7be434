package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows
// read-only operations. It guards listeners that are reachable without
// authentication, such as a local Unix socket.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on this listener: %s",
				info.FullMethod,
			)
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor records every unary call in the API metrics and logs
// failed calls
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, info.FullMethod)

		if err != nil {
			logger.Warn().
				Err(err).
				Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("duration", timer.Duration()).
				Msg("gRPC call failed")
		}
		return resp, err
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	// "/grpc.health.v1.Health/Check" -> "Check"
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyPrefixes := []string{
		"List",
		"Get",
		"Check",
		"Watch",
		"Describe",
	}

	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}
	return false
}
