package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"AuthPlatform/pkg/health"
	"AuthPlatform/pkg/logger"
)

// NewServer создает gRPC сервер с перехватчиками восстановления и логирования
func NewServer(log logger.Logger) *grpc.Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(log),
			LoggingInterceptor(log),
		),
	)
	reflection.Register(server)
	return server
}

// RecoveryInterceptor превращает панику обработчика в codes.Internal
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("gRPC handler panic",
					logger.String("method", info.FullMethod),
					logger.String("panic", fmt.Sprintf("%v", recovered)),
					logger.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor логирует завершение вызова
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []logger.Field{
			logger.String("method", info.FullMethod),
			logger.String("code", status.Code(err).String()),
			logger.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil {
			log.Warn("gRPC call failed", append(fields, logger.Error(err))...)
		} else {
			log.Debug("gRPC call completed", fields...)
		}
		return resp, err
	}
}

// HealthReporter публикует результат проверок зависимостей через grpc.health.v1
type HealthReporter struct {
	server   *grpchealth.Server
	checker  health.HealthChecker
	service  string
	interval time.Duration
	log      logger.Logger
}

// RegisterHealth регистрирует сервис здоровья на gRPC сервере
func RegisterHealth(server *grpc.Server, checker health.HealthChecker, service string, interval time.Duration, log logger.Logger) *HealthReporter {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return &HealthReporter{
		server:   hs,
		checker:  checker,
		service:  service,
		interval: interval,
		log:      log,
	}
}

// Refresh выполняет проверки и обновляет статус
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	result := h.checker.Check(ctx)
	if !result.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("Dependencies are unhealthy", logger.Any("services", result.Services))
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(h.service, status)
	return status
}

// Run периодически обновляет статус до отмены контекста
func (h *HealthReporter) Run(ctx context.Context) {
	h.Refresh(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
