package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/logger"
	"github.com/arklim/authguard/internal/infra/security"
	"github.com/arklim/authguard/internal/repository"
	"github.com/arklim/authguard/internal/transport/http/middleware"
	"github.com/arklim/authguard/internal/usecase"
)

const (
	recaptchaHeader = "X-Recaptcha-Token"
	loginAction     = "login"
	tokenTypeBearer = "Bearer"
)

// LoginDecider runs the login decision pipeline.
type LoginDecider interface {
	Decide(ctx context.Context, attempt domain.LoginAttempt) (domain.AuthDecision, error)
}

// AccountRegistrar creates accounts.
type AccountRegistrar interface {
	Register(ctx context.Context, email, name, password string) (domain.Account, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	IssueAccessToken(opts security.AccessTokenOptions) (string, time.Time, error)
}

// TokenTTLs sets the lifetime of each token scope.
type TokenTTLs struct {
	Access         time.Duration
	PasswordChange time.Duration
}

// AuthHandler exposes registration, login and account endpoints.
type AuthHandler struct {
	decider      LoginDecider
	registration AccountRegistrar
	tokens       TokenIssuer
	accounts     middleware.AccountFinder
	scorer       port.RiskScorer
	ttls         TokenTTLs
	logger       *zap.Logger
	now          func() time.Time
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithRiskScorer scores password logins so suspicious ones are challenged with a one-time password.
func WithRiskScorer(scorer port.RiskScorer) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.scorer = scorer
	}
}

// WithAuthClock overrides the clock used for token issuance.
func WithAuthClock(now func() time.Time) AuthHandlerOption {
	return func(h *AuthHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(decider LoginDecider, registration AccountRegistrar, tokens TokenIssuer, accounts middleware.AccountFinder, ttls TokenTTLs, log *zap.Logger, opts ...AuthHandlerOption) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}

	handler := &AuthHandler{
		decider:      decider,
		registration: registration,
		tokens:       tokens,
		accounts:     accounts,
		ttls:         ttls,
		logger:       log,
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds authentication routes, running the supplied middleware ahead of each handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, registerMiddlewares, loginMiddlewares []gin.HandlerFunc) {
	r.POST("/register", append(append([]gin.HandlerFunc{}, registerMiddlewares...), h.Register)...)
	r.POST("/login", append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.Login)...)
}

// Register creates an account and answers 201 with its summary.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	account, err := h.registration.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "a valid email and password are required"},
			{Err: usecase.ErrAccountExists, Status: http.StatusConflict, Message: "email already registered"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusUnprocessableEntity, Message: "password does not meet requirements"},
		}, http.StatusInternalServerError, "registration failed")
		return
	}

	c.JSON(http.StatusCreated, newAccountSummary(account))
}

// Login runs the decision pipeline. Suspicious password logins get a one-time password challenge
// that is completed by repeating the call with the otp field set.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}
	if req.OTP == nil && req.Password == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "password or otp is required"))
		return
	}

	ctx := c.Request.Context()
	attempt := domain.LoginAttempt{
		Identifier: req.Email,
		Secret:     req.Password,
		OTP:        req.OTP,
	}
	if !attempt.HasOTP() {
		attempt.RiskScore = h.riskScore(c, req.RecaptchaToken)
	}

	decision, err := h.decider.Decide(ctx, attempt)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "login failed"))
		return
	}

	switch decision.Kind {
	case domain.DecisionAllowed:
		h.respondWithToken(c, decision, security.ScopeFull, h.ttls.Access)
	case domain.DecisionPasswordChangeRequired:
		h.respondWithToken(c, decision, security.ScopePasswordChange, h.ttls.PasswordChange)
	case domain.DecisionOTPRequired:
		c.JSON(http.StatusAccepted, OTPChallengeResponse{
			Decision:     decision.Kind,
			Message:      "a one-time password has been sent to your email",
			OTPExpiresAt: decision.OTPExpiresAt,
		})
	case domain.DecisionDeniedOTPInvalid:
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid or expired one-time password"))
	case domain.DecisionDeniedLocked:
		seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusLocked, LockedResponse{
			Decision:   decision.Kind,
			Error:      "account temporarily locked",
			RetryAfter: seconds,
			TraceID:    middleware.GetTraceID(c),
		})
	case domain.DecisionDeniedDisabled:
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account disabled"))
	default:
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	}
}

// Me returns the account the bearer token was issued for.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	account, err := h.accounts.FindByIdentifier(c.Request.Context(), claims.Email)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to load account")
		return
	}

	c.JSON(http.StatusOK, newAccountSummary(*account))
}

// A scorer failure counts as the most suspicious score, so the login is challenged instead of refused.
func (h *AuthHandler) riskScore(c *gin.Context, bodyToken string) *float64 {
	if h.scorer == nil {
		return nil
	}

	token := bodyToken
	if token == "" {
		token = c.GetHeader(recaptchaHeader)
	}

	score, err := h.scorer.Score(c.Request.Context(), domain.RiskRequest{
		Token:     token,
		Action:    loginAction,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("risk scoring failed, treating request as suspicious",
			zap.String("client_ip", logger.MaskIP(c.ClientIP())),
			zap.Error(err),
		)
		score = 0
	}
	return &score
}

func (h *AuthHandler) respondWithToken(c *gin.Context, decision domain.AuthDecision, scope string, ttl time.Duration) {
	if decision.Account == nil {
		_ = c.Error(errors.New("authenticated decision without account"))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "login failed"))
		return
	}
	account := *decision.Account

	issuedAt := h.now().UTC()
	token, expiresAt, err := h.tokens.IssueAccessToken(security.AccessTokenOptions{
		UserID:   account.ID,
		Email:    account.Email,
		Scope:    scope,
		Roles:    account.Roles,
		TTL:      ttl,
		IssuedAt: issuedAt,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to issue access token"))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Decision:    decision.Kind,
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		Scope:       scope,
		ExpiresIn:   int(expiresAt.Sub(issuedAt).Seconds()),
		ExpiresAt:   expiresAt,
		Account:     newAccountSummary(account),
	})
}
