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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/cadencehq/identity-service/internal/adapters/cache"
	eventadapter "github.com/cadencehq/identity-service/internal/adapters/events"
	grpcadapter "github.com/cadencehq/identity-service/internal/adapters/grpc"
	httpadapter "github.com/cadencehq/identity-service/internal/adapters/http"
	"github.com/cadencehq/identity-service/internal/adapters/postgres"
	"github.com/cadencehq/identity-service/internal/adapters/security"
	"github.com/cadencehq/identity-service/internal/application"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	auditSink  *eventadapter.AsyncAuditSink
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping identity service", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	repos := postgres.NewRepositories(db)
	codec, err := security.NewJWTCodec([]byte(cfg.SigningSecret))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	auditSink := eventadapter.NewAsyncAuditSink(logger, repos.Audit, cfg.AuditBuffer, cfg.AuditWriteTimeout)
	auditSink.Start()

	svc, err := application.NewService(application.Config{
		DefaultRole:     cfg.DefaultRole,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		PasswordPolicy:  cfg.PasswordPolicy(),
		ResetTokenTTL:   cfg.ResetTokenTTL,
		VerifyTokenTTL:  cfg.VerifyTokenTTL,
		RoleCacheSize:   cfg.RoleCacheSize,
		RoleCacheTTL:    cfg.RoleCacheTTL,
	}, application.Dependencies{
		Logger:        logger,
		Users:         repos.Users,
		RefreshTokens: repos.RefreshTokens,
		RBAC:          repos.RBAC,
		Audit:         repos.Audit,
		AuditSink:     auditSink,
		Recovery:      repos.Recovery,
		Outbox:        repos.Outbox,
		Guard:         cacheadapter.NewRedisAttemptGuard(redisClient, cfg.FailedThreshold, cfg.AttemptWindow, cfg.LockoutDuration),
		Hasher:        security.NewArgon2Hasher(security.DefaultArgon2Params()),
		Codec:         codec,
		Mailer:        eventadapter.NewLoggingMailer(logger),
	})
	if err != nil {
		auditSink.Close()
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init application service: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpadapter.NewMetrics(registry)

	handler := httpadapter.NewHandler(svc, metrics, httpadapter.RouterConfig{
		RegisterPerMinute: cfg.RegisterPerMinute,
		RegisterBurst:     cfg.RegisterBurst,
	})
	router := httpadapter.NewRouter(handler, registry)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewAuthInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		auditSink.Close()
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.Outbox,
		eventadapter.NewLoggingPublisher(logger),
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxMaxRetries,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		auditSink:  auditSink,
		outbox:     outbox,
		cleanupFn: func(ctx context.Context) {
			auditSink.Close()
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
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

// RunWorker runs the outbox relay plus the scheduled sweeps of expired
// refresh and recovery tokens. Sweeps are housekeeping; live requests never
// depend on them.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(r.cfg.SweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		refresh, recovery, err := r.service.SweepExpired(sweepCtx)
		if err != nil {
			r.logger.Error("expiry sweep failed",
				"operation", "expiry_sweep", "outcome", "failure", "error", err)
			return
		}
		r.logger.Info("expiry sweep completed",
			"operation", "expiry_sweep", "outcome", "success",
			"refresh_deleted", refresh, "recovery_deleted", recovery)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	r.logger.Info("outbox worker started", "sweep_schedule", r.cfg.SweepSchedule)
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
