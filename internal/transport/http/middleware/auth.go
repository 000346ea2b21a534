package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/infra/security"
	"github.com/arklim/authguard/internal/repository"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// TokenVerifier validates bearer access tokens.
type TokenVerifier interface {
	ParseAccessToken(raw string, now time.Time) (*security.AccessTokenClaims, error)
}

// AccountFinder loads the account a token was issued for.
type AccountFinder interface {
	FindByIdentifier(ctx context.Context, email string) (*domain.Account, error)
}

// RequireAuth validates the Authorization header and checks the token still matches the account.
// Tokens issued before the latest password change, or carrying a role the account no longer
// holds, are rejected.
func RequireAuth(verifier TokenVerifier, accounts AccountFinder, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := verifier.ParseAccessToken(token, now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			return
		}

		account, err := accounts.FindByIdentifier(c.Request.Context(), claims.Email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			return
		}
		if account.ID != claims.UserID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			return
		}
		if !account.Enabled {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "account disabled"))
			return
		}
		if issuedBeforePasswordChange(claims, account) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token revoked by password change"))
			return
		}
		if rolesRevoked(claims, account) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token revoked by role change"))
			return
		}

		c.Set(AccountIDKey, account.ID)
		c.Set(ClaimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = account.ID
		}

		c.Next()
	}
}

// RequireScope admits tokens issued with any of the listed scopes.
func RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		for _, scope := range scopes {
			if claims.HasScope(scope) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient scope"))
	}
}

// RequireRole admits tokens carrying any of the listed roles. It must run after RequireAuth,
// which already rejected tokens whose roles were revoked.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		if !claims.HasAnyRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient role"))
			return
		}

		c.Next()
	}
}

// GetClaims returns the verified token claims stored by RequireAuth.
func GetClaims(c *gin.Context) (*security.AccessTokenClaims, bool) {
	val, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := val.(*security.AccessTokenClaims)
	return claims, ok && claims != nil
}

// GetAuthenticatedAccountID retrieves the account ID from context (helper for handlers)
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	accountID, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}

	if id, ok := accountID.(string); ok {
		return id, true
	}

	return "", false
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing authorization header"))
		return "", false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing access token"))
		return "", false
	}

	return token, true
}

// iat carries second precision, so the change time is truncated before comparing.
func issuedBeforePasswordChange(claims *security.AccessTokenClaims, account *domain.Account) bool {
	if account.PasswordChangedAt == nil {
		return false
	}
	if claims.IssuedAt == nil {
		return true
	}
	return claims.IssuedAt.Time.Before(account.PasswordChangedAt.Truncate(time.Second))
}

func rolesRevoked(claims *security.AccessTokenClaims, account *domain.Account) bool {
	for _, role := range claims.Roles {
		if !slices.Contains(account.Roles, role) {
			return true
		}
	}
	return false
}
