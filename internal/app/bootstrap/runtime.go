package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/cache"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/delivery"
	httpadapter "github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/webhook"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/application"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	worker     *delivery.Worker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m74 promotion relay", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	policy := domain.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.BaseDelay,
		Max:         cfg.MaxDelay,
	}

	var queue ports.RetryQueue
	ready := func(context.Context) error { return nil }
	cleanup := func(context.Context) {}
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; using in-memory queue without durability")
		queue = memory.NewRetryQueue(policy)
	} else {
		resolved := cacheadapter.ResolveURL(cfg.RedisURL, cacheadapter.ParseTLSPreference(cfg.RedisUseTLS))
		logger.Info("connecting to redis", "url", cacheadapter.MaskURL(resolved))
		redisClient, err := cacheadapter.Connect(ctx, resolved)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		queue = cacheadapter.NewRetryQueue(redisClient, policy)
		ready = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		cleanup = func(context.Context) { _ = redisClient.Close() }
	}

	dispatcher := webhook.NewDispatcher(cfg.DispatchTimeout, cfg.SigningSecret)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:       cfg.ServiceID,
			Version:           cfg.Version,
			FlushConfirmation: cfg.FlushConfirmation,
		},
		Queue:      queue,
		Dispatcher: dispatcher,
	})

	handler := httpadapter.NewHandler(svc, ready)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	worker := delivery.NewWorker(logger, queue, dispatcher, policy, cfg.TickInterval, cfg.BatchSize)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		worker:     worker,
		cleanupFn:  cleanup,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		r.logger.Info("grpc health server started", "addr", r.grpcLis.Addr().String())
		_ = r.grpcServer.Serve(r.grpcLis)
	}()

	r.logger.Info("delivery worker started", "tick_interval", r.cfg.TickInterval.String(), "batch_size", r.cfg.BatchSize)
	err := r.worker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
