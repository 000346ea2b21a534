package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/database"
	kafkainfra "github.com/arklim/authguard/internal/infra/kafka"
	"github.com/arklim/authguard/internal/infra/logger"
	"github.com/arklim/authguard/internal/infra/notify"
	"github.com/arklim/authguard/internal/infra/rabbitmq"
	redisinfra "github.com/arklim/authguard/internal/infra/redis"
	"github.com/arklim/authguard/internal/infra/risk"
	"github.com/arklim/authguard/internal/infra/security"
	"github.com/arklim/authguard/internal/infra/telemetry"
	"github.com/arklim/authguard/internal/repository/memory"
	postgresrepo "github.com/arklim/authguard/internal/repository/postgres"
	redisrepo "github.com/arklim/authguard/internal/repository/redis"
	"github.com/arklim/authguard/internal/transport/http/middleware"
	"github.com/arklim/authguard/internal/transport/http/routes"
	"github.com/arklim/authguard/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg     *config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	tracing *telemetry.TracerProvider
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

type storage struct {
	accounts   port.CredentialStore
	rateLimits port.RateLimitStore
	database   routes.DatabaseChecker
	cache      routes.CacheChecker
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	a.tracing, err = telemetry.SetupTracing(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	store, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	keyProvider, kid, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider, cfg.JWT.Issuer, kid)

	argonParams := port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if argonParams == (port.Argon2Params{}) {
		argonParams = security.DefaultArgon2Params()
	}
	hasher, err := security.NewHasher(argonParams)
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	var policy port.PasswordPolicyValidator
	if cfg.Password.EnforceStrength {
		policy = security.NewPasswordPolicy(cfg.Password)
	}

	events := a.openEventPublisher()

	notifier, err := a.openNotifier()
	if err != nil {
		return nil, err
	}

	scorer, err := risk.NewScorer(cfg.Risk, log)
	if err != nil {
		return nil, fmt.Errorf("init risk scorer: %w", err)
	}

	lockout := usecase.NewLockoutTracker(cfg.Lockout, store.accounts, events, log)
	otp := usecase.NewOTPChallenge(cfg.OTP, store.accounts, hasher, notifier, events, metrics, log)
	lifecycle := usecase.NewPasswordLifecycle(cfg.Password, store.accounts, hasher, policy, events, log)
	decisions := usecase.NewDecisionEngine(store.accounts, hasher, lockout, otp, lifecycle, metrics, log)
	registration := usecase.NewRegistrationService(store.accounts, hasher, policy, events, log)
	registration.WithAdminEmails(cfg.Roles.AdminEmails...)
	admin := usecase.NewAccountAdministration(store.accounts, log)
	reset := usecase.NewPasswordResetFlow(cfg, store.accounts, lifecycle, notifier, events, metrics, store.rateLimits, log)

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(store.rateLimits, log),
		Services: routes.ServiceSet{
			Decisions:     decisions,
			Registration:  registration,
			Passwords:     lifecycle,
			PasswordReset: reset,
			Admin:         admin,
		},
		Tokens:      jwtManager,
		Accounts:    store.accounts,
		RiskScorer:  scorer,
		HTTPMetrics: httpMetrics,
		Gatherer:    registry,
		Database:    store.database,
		Cache:       store.cache,
	})

	ok = true
	return a, nil
}

func (a *Application) openStorage(ctx context.Context) (storage, error) {
	var s storage

	switch a.cfg.Storage.Driver {
	case "memory":
		a.logger.Warn("using in-memory credential store, accounts are lost on restart")
		s.accounts = memory.NewAccountStore()
	default:
		pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres, a.logger)
		if err != nil {
			return s, fmt.Errorf("init postgres: %w", err)
		}
		a.addCloser("postgres", func() error {
			pool.Close()
			return nil
		})
		s.accounts = postgresrepo.NewAccountRepository(pool)
		s.database = pool
	}

	if a.cfg.Redis.Host == "" {
		a.logger.Info("redis not configured, rate limits are kept in memory")
		s.rateLimits = memory.NewRateLimitStore()
		return s, nil
	}

	redisClient, err := redisinfra.NewClient(a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable, rate limits are kept in memory", zap.Error(err))
		s.rateLimits = memory.NewRateLimitStore()
		return s, nil
	}
	a.addCloser("redis", redisClient.Close)

	window := a.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}
	s.rateLimits = redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: a.cfg.Redis.RateLimitPrefix,
		TTL:       2 * window,
	})
	s.cache = redisClient
	return s, nil
}

func (a *Application) openEventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.addCloser("kafka producer", producer.Close)

	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) openNotifier() (port.Notifier, error) {
	switch a.cfg.Notifier.Transport {
	case "kafka":
		producer, err := kafkainfra.NewSyncProducer(a.cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("init kafka notifier: %w", err)
		}
		notifier := kafkainfra.NewNotifier(producer, a.cfg.Kafka, a.logger)
		a.addCloser("kafka notifier", notifier.Close)
		return notifier, nil
	case "rabbitmq":
		notifier, err := rabbitmq.Dial(a.cfg.RabbitMQ, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq notifier: %w", err)
		}
		a.addCloser("rabbitmq notifier", notifier.Close)
		return notifier, nil
	default:
		a.logger.Warn("notifications are logged, not delivered")
		return notify.NewLogNotifier(a.logger), nil
	}
}

func (a *Application) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// close releases resources in reverse acquisition order.
func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].close(); err != nil {
			a.logger.Warn("failed to close resource", zap.String("resource", a.closers[i].name), zap.Error(err))
		}
	}
	a.closers = nil
}

// Handler exposes the configured HTTP engine.
func (a *Application) Handler() http.Handler {
	return a.engine
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracing.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(a.logger),
	}

	a.logger.Info("starting authguard API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down authguard API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
