package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/cuemby/dbfleet/pkg/metrics"
)

func startGRPC(t *testing.T) healthpb.HealthClient {
	t.Helper()

	s := NewGRPCServer(GRPCOptions{ReadOnly: true})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestGRPCHealth(t *testing.T) {
	markHealthy()
	metrics.UpdateComponent("store", false, "disk gone")
	t.Cleanup(markHealthy)

	client := startGRPC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		service  string
		expected healthpb.HealthCheckResponse_ServingStatus
	}{
		{"", healthpb.HealthCheckResponse_NOT_SERVING},
		{"store", healthpb.HealthCheckResponse_NOT_SERVING},
		{"engine", healthpb.HealthCheckResponse_SERVING},
	}

	for _, tt := range tests {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: tt.service})
		require.NoError(t, err, tt.service)
		assert.Equal(t, tt.expected, resp.Status, tt.service)
	}

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestReadOnlyInterceptor(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/dbfleet.Admin/Orchestrate"}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method   string
		readOnly bool
	}{
		{"/grpc.health.v1.Health/Check", true},
		{"/grpc.health.v1.Health/Watch", true},
		{"/grpc.health.v1.Health/List", true},
		{"/dbfleet.Admin/GetReport", true},
		{"/dbfleet.Admin/Orchestrate", false},
		{"/dbfleet.Admin/SetPlatform", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.readOnly, isReadOnlyMethod(tt.method), tt.method)
	}
}
