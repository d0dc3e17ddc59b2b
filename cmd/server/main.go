package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-plt-auth/internal/audit"
	"github.com/pesio-ai/be-plt-auth/internal/config"
	"github.com/pesio-ai/be-plt-auth/internal/handler"
	"github.com/pesio-ai/be-plt-auth/internal/lockout"
	"github.com/pesio-ai/be-plt-auth/internal/logger"
	"github.com/pesio-ai/be-plt-auth/internal/repository"
	"github.com/pesio-ai/be-plt-auth/internal/repository/memory"
	"github.com/pesio-ai/be-plt-auth/internal/service"
	"github.com/pesio-ai/be-plt-auth/pkg/clock"
	jwtpkg "github.com/pesio-ai/be-plt-auth/pkg/jwt"
	"github.com/pesio-ai/be-plt-auth/pkg/password"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		ServiceName: cfg.ServiceName,
		Pretty:      cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var tx repository.Transactor
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		tx = memory.NewStore()
	default:
		log.Info().Msg("Connecting to database")
		pool, err := repository.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pool.Close()

		applied, err := repository.Migrate(ctx, pool)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Strs("migrations", applied).Msg("Database connection established")
		tx = repository.NewPostgresTransactor(pool)
	}

	// Initialize audit publisher
	var publisher audit.Publisher = audit.NopPublisher{}
	if cfg.RedisURL != "" {
		client, err := audit.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure redis")
		}
		defer client.Close()

		redisPublisher := audit.NewRedisPublisher(client, cfg.AuditStream, cfg.AuditStreamMaxLen)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisPublisher.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable; audit events will be dropped until it recovers")
		}
		cancel()
		publisher = redisPublisher
		log.Info().Str("stream", cfg.AuditStream).Msg("Audit events go to redis stream")
	}

	// Initialize token manager and hasher
	clk := clock.System{}
	jwtManager, err := jwtpkg.NewManager(jwtpkg.Config{
		SigningKey:           []byte(cfg.JWTSigningKey),
		Issuer:               cfg.JWTIssuer,
		Audience:             cfg.JWTAudience,
		AccessTokenDuration:  cfg.AccessTokenDuration,
		RefreshTokenDuration: cfg.RefreshTokenDuration,
	}, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create JWT manager")
	}

	params := password.DefaultParams()
	params.Memory = cfg.Argon2Memory
	params.Iterations = cfg.Argon2Iterations
	params.Parallelism = cfg.Argon2Parallelism
	hasher := password.NewHasher(params)

	policy := lockout.Policy{Threshold: cfg.LockoutThreshold, Duration: cfg.LockoutDuration}

	// Initialize service and handler
	authService := service.NewAuthService(tx, hasher, jwtManager, policy, clk, publisher, log)
	grpcHandler := handler.NewGRPCHandler(authService, log)

	// Setup gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogging(log)))
	handler.Register(grpcServer, grpcHandler)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.GRPCPort).Msg("Failed to create gRPC listener")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- err
		}
	}()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-errCh:
		log.Error().Err(err).Msg("gRPC server failed")
	}

	healthSrv.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		grpcServer.Stop()
	}

	log.Info().Msg("Server stopped")
}
