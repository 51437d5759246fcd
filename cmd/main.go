package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httphandler "AuthPlatform/internal/handler/http"
	"AuthPlatform/internal/events"
	"AuthPlatform/internal/migrations"
	"AuthPlatform/internal/pkg/jwt"
	"AuthPlatform/internal/pkg/password"
	"AuthPlatform/internal/repository/postgres"
	redisrepo "AuthPlatform/internal/repository/redis"
	"AuthPlatform/internal/service"
	"AuthPlatform/pkg/config"
	"AuthPlatform/pkg/database"
	pkggrpc "AuthPlatform/pkg/grpc"
	"AuthPlatform/pkg/health"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/metrics"
	"AuthPlatform/pkg/rabbitmq"
	"AuthPlatform/pkg/ratelimit"
	pkg_redis "AuthPlatform/pkg/redis"
)

const serviceName = "auth-service"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// Инициализация конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Service stopped with error", logger.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing := metrics.InitializeOpenTelemetry(serviceName, cfg.Version, cfg.Tracing.SampleRatio)
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				appLogger.Warn("Failed to shutdown tracer provider", logger.Error(err))
			}
		}()
	}

	// PostgreSQL
	dbConfig := database.NewConfig(cfg.DatabaseDSN())
	dbConfig.MaxConns = cfg.Database.MaxConns
	dbConfig.MinConns = cfg.Database.MinConns

	connectCtx, cancelConnect := context.WithTimeout(ctx, time.Minute)
	defer cancelConnect()

	db, err := database.Connect(connectCtx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()
	appLogger.Info("Connected to PostgreSQL")

	if cfg.Database.Migrate {
		if err := db.Migrate(connectCtx, migrations.FS, "."); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		appLogger.Info("Migrations applied")
	}

	// Redis
	redisConfig := pkg_redis.NewConfig(cfg.Redis.Addr)
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.MaxRetries = cfg.Redis.MaxRetries

	redisClient, err := pkg_redis.Connect(connectCtx, redisConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", logger.String("addr", cfg.Redis.Addr))

	m := metrics.NewMetrics("auth_service", metrics.NewRegistry())

	// События
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		mqConfig := rabbitmq.NewConfig(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		conn, err := rabbitmq.Connect(connectCtx, mqConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		async := events.NewAsyncPublisher(rabbitmq.NewProducer(conn, mqConfig), cfg.RabbitMQ.BufferSize, appLogger, m.RecordDroppedEvent)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := async.Close(closeCtx); err != nil {
				appLogger.Warn("Event buffer was not drained", logger.Error(err))
			}
		}()
		publisher = async
		appLogger.Info("Publishing events to RabbitMQ", logger.String("exchange", cfg.RabbitMQ.Exchange))
	}

	// Репозитории и сервисы
	credentials := postgres.NewCredentialRepository(db.Pool)
	users := postgres.NewUserRepository(db.Pool)
	ledger := service.NewIdempotencyLedger(redisrepo.NewIdempotencyRepository(redisClient.Client), cfg.IdempotencyTTL())

	authService := service.NewAuthService(
		credentials,
		users,
		password.NewBcryptHasher(cfg.Password.BcryptCost),
		jwt.NewManager(cfg.JWT.Secret, cfg.TokenTTL(), cfg.JWT.Issuer),
	)
	userService := service.NewUserService(users)

	checker := health.NewChecker(cfg.Version, 3*time.Second).
		Register("postgres", db.HealthCheck).
		Register("redis", redisClient.HealthCheck)

	routerConfig := httphandler.RouterConfig{
		Resolver:    authService,
		Ledger:      ledger,
		Health:      checker,
		Metrics:     m,
		Version:     cfg.Version,
		Environment: cfg.Environment,
		Logger:      appLogger,
	}
	if cfg.RateLimiting.Enabled {
		routerConfig.Limiter = ratelimit.NewRedisRateLimiter(redisClient.Client)
		routerConfig.RateLimit = cfg.RateLimiting.RequestsPerMinute
		routerConfig.RateWindow = time.Minute
	}

	handler := httphandler.NewHandler(authService, userService, database.NewTxManager(db.Pool), publisher, m, appLogger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      httphandler.NewRouter(handler, routerConfig),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		appLogger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC используется только для grpc.health.v1
	if cfg.GRPC.Enabled {
		grpcServer := pkggrpc.NewServer(appLogger)
		reporter := pkggrpc.RegisterHealth(grpcServer, checker, serviceName, 15*time.Second, appLogger)
		go reporter.Run(ctx)

		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to listen grpc port: %w", err)
		}
		go func() {
			appLogger.Info("Starting gRPC server", logger.Int("port", cfg.GRPC.Port))
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		defer grpcServer.GracefulStop()
	}

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown failed", logger.Error(err))
	}

	appLogger.Info("Server stopped")
	return nil
}
