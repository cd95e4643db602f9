package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/johndoe6345789/pyracms-core/internal/config"
	"github.com/johndoe6345789/pyracms-core/internal/db"
	"github.com/johndoe6345789/pyracms-core/internal/db/migrate"
	healthhandler "github.com/johndoe6345789/pyracms-core/internal/health/handler"
	identityhandler "github.com/johndoe6345789/pyracms-core/internal/identity/handler"
	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	"github.com/johndoe6345789/pyracms-core/internal/policy/engine"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/server"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessionrepo "github.com/johndoe6345789/pyracms-core/internal/session/repository"
	"github.com/johndoe6345789/pyracms-core/internal/telemetry"
	telemetryotel "github.com/johndoe6345789/pyracms-core/internal/telemetry/otel"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

const (
	shutdownTimeout    = 10 * time.Second
	healthSyncInterval = 15 * time.Second
)

// run builds every component from cfg, serves until ctx is cancelled and
// then shuts down in reverse order.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	m := metrics.New()
	var pingers healthhandler.Pingers

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Run(cfg.DatabaseURL, "up", migrate.WithLogger(log)); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Msg("migrations applied")
		}
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer sqlDB.Close()
		pingers = append(pingers, db.Pinger{DB: sqlDB})
	}

	var users userrepo.Repository
	if sqlDB != nil {
		users = userrepo.NewPostgresRepository(sqlDB)
	} else {
		if !cfg.IsDevelopment() {
			log.Warn().Msg("DATABASE_URL is not set; users are kept in memory and lost on restart")
		}
		users = userrepo.NewMemoryRepository()
	}

	store, closeStore, err := openSessionStore(ctx, cfg, sqlDB)
	if err != nil {
		return err
	}
	defer closeStore()
	if p, ok := store.(healthhandler.Pinger); ok {
		pingers = append(pingers, p)
	}

	keyer, err := security.NewSessionKeyer([]byte(cfg.ServerSecret))
	if err != nil {
		return &config.ConfigurationError{Key: "SERVER_SECRET", Reason: err.Error()}
	}
	tokenCfg, err := cfg.TokenConfig()
	if err != nil {
		return err
	}
	tokens, err := security.NewTokenProvider(tokenCfg)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	hasher, err := security.NewHasher(cfg.HasherConfig())
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	manager := session.NewManager(store, keyer, session.WithTTL(cfg.SessionTTL()))

	policy, err := engine.NewOPAEvaluatorFromFile(ctx, cfg.LoginPolicyPath)
	if err != nil {
		return fmt.Errorf("login policy: %w", err)
	}

	emitter := telemetry.Fanout{
		telemetry.NewLogEmitter(log),
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
	}
	auth, err := service.NewAuthService(users, hasher, tokens, manager,
		service.WithLoginPolicy(policy),
		service.WithSessionPolicy(cfg.SessionPolicy, cfg.MaxSessionsPerUser),
		service.WithEmitter(emitter),
		service.WithMetrics(m),
		service.WithLogger(log),
	)
	if err != nil {
		return err
	}

	health := healthhandler.NewServer(pingers, policy).WithLogger(log)
	deps := server.Deps{Auth: auth, Health: health, Metrics: m, Logger: log}

	// Bind gRPC before any server starts so a bad address fails cleanly.
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	errCh := make(chan error, 2)

	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, server.NewHTTPHandler(deps))
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var stopGRPC func()
	if grpcLis != nil {
		grpcSrv, hs := server.NewGRPCServer(deps)
		go health.Run(ctx, hs, healthSyncInterval, identityhandler.AuthServiceName)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
			if err := grpcSrv.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
		stopGRPC = grpcSrv.GracefulStop
	}

	go manager.RunSweeper(ctx, cfg.SessionSweepInterval(), log, m.SessionsSwept)

	log.Info().
		Str("session_backend", cfg.SessionBackend).
		Str("session_policy", cfg.SessionPolicy).
		Str("token_alg", tokens.Algorithm()).
		Str("hash_alg", string(hasher.Algorithm())).
		Msg("identity service started")

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if stopGRPC != nil {
		stopGRPC()
	}
	// Let in-flight async event emits finish before the log provider shuts down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	return serveErr
}

// openSessionStore returns the configured session store and its cleanup.
func openSessionStore(ctx context.Context, cfg *config.Config, sqlDB *sql.DB) (sessionrepo.Store, func(), error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := sessionrepo.NewRedisStore(client, cfg.RedisKeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	case config.SessionBackendPostgres:
		if sqlDB == nil {
			return nil, nil, &config.ConfigurationError{Key: "DATABASE_URL", Reason: "must be set when SESSION_BACKEND=postgres"}
		}
		return sessionrepo.NewPostgresStore(sqlDB), func() {}, nil
	default:
		return sessionrepo.NewMemoryStore(), func() {}, nil
	}
}
