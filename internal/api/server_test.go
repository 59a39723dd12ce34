package api

import (
	"context"
	"io"
	"testing"
	"time"

	"tablesync/internal/config"
	"tablesync/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealth(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		GRPC:    config.APIGRPCConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: "k"}},
		},
	}
	logger := zerolog.New(io.Discard)
	srv, err := NewGRPCServer(&cfg, &logger)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestBuildTLSConfigErrors(t *testing.T) {
	_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.Error(t, err)
}

func TestGRPCHealthFollowsManager(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		GRPC:    config.APIGRPCConfig{Enabled: true, Port: 0},
	}
	logger := zerolog.New(io.Discard)
	srv, err := NewGRPCServer(&cfg, &logger)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	manager := scheduler.NewManager(staticJobs{{ID: "orders", Schedule: "@hourly", Enabled: true}}, idleExecutor{},
		scheduler.ManagerConfig{Location: time.UTC}, &logger)
	manager.OnStateChange(srv.SetServing)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	require.NoError(t, manager.Initialize(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	require.NoError(t, manager.Shutdown(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	require.NoError(t, manager.Reload(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	require.NoError(t, manager.Shutdown(ctx))
}
