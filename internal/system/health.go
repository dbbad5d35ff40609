package system

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// bridgeService is the health service name of a bridge worker.
func bridgeService(id string) string { return "bridge/" + id }

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	lm.updateHealth()

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// watchHealth refreshes the health service until ctx is done.
func (lm *LifecycleManager) watchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.updateHealth()
		}
	}
}

func (lm *LifecycleManager) updateHealth() {
	if lm.health == nil {
		return
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if lm.executor.Stats().Running {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	lm.health.SetServingStatus("", overall)

	for _, w := range lm.bridges.List() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if w.Healthy() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		lm.health.SetServingStatus(bridgeService(w.ID()), status)
	}
}
