package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/security"
	"github.com/arklim/authguard/internal/transport/http/handlers"
	"github.com/arklim/authguard/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Decisions     handlers.LoginDecider
	Registration  handlers.AccountRegistrar
	Passwords     handlers.PasswordChanger
	PasswordReset handlers.PasswordResetter
	Admin         handlers.AccountAdministrator
}

// TokenService issues, verifies and publishes access tokens.
type TokenService interface {
	handlers.TokenIssuer
	handlers.KeySetRenderer
	middleware.TokenVerifier
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	Services       ServiceSet
	Tokens         TokenService
	Accounts       middleware.AccountFinder
	RiskScorer     port.RiskScorer
	HTTPMetrics    *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(deps.TracerProvider))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", metricsHandler(deps.Gatherer))

	if deps.Tokens != nil {
		r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Tokens).Keys)
	}

	if deps.Tokens == nil || deps.Accounts == nil {
		return r
	}

	api := r.Group("/api/v1")
	requireAuth := middleware.RequireAuth(deps.Tokens, deps.Accounts, nil)

	authHandler := handlers.NewAuthHandler(
		deps.Services.Decisions,
		deps.Services.Registration,
		deps.Tokens,
		deps.Accounts,
		handlers.TokenTTLs{
			Access:         deps.Config.JWT.AccessTokenTTL,
			PasswordChange: deps.Config.JWT.PasswordChangeTTL,
		},
		deps.Logger,
		handlers.WithRiskScorer(deps.RiskScorer),
	)

	authGroup := api.Group("/auth")
	authHandler.RegisterRoutes(authGroup,
		limitByIP(deps, "auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts),
		limitByIP(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
	)

	accountGroup := api.Group("/account", requireAuth, middleware.RequireScope(security.ScopeFull))
	accountGroup.GET("/me", authHandler.Me)

	passwordHandler := handlers.NewPasswordHandler(deps.Services.Passwords, deps.Services.PasswordReset, deps.Logger)

	passwordGroup := api.Group("/password")
	passwordGroup.POST("/change",
		requireAuth,
		middleware.RequireScope(security.ScopeFull, security.ScopePasswordChange),
		passwordHandler.ChangePassword,
	)

	resetGroup := passwordGroup.Group("/reset", limitByIP(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts)...)
	resetGroup.POST("/request", passwordHandler.RequestReset)
	resetGroup.POST("/confirm", passwordHandler.ConfirmReset)

	if deps.Services.Admin != nil {
		adminGroup := api.Group("/admin",
			requireAuth,
			middleware.RequireScope(security.ScopeFull),
			middleware.RequireRole(domain.RoleAdmin),
		)
		handlers.NewAdminHandler(deps.Services.Admin).RegisterRoutes(adminGroup)
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func limitByIP(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	})}
}
