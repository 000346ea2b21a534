package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim validation.
var ErrInvalidToken = errors.New("jwt: invalid token")

const (
	// ScopeFull grants access to every authenticated endpoint.
	ScopeFull = "full"
	// ScopePasswordChange is issued when a password has expired; it only unlocks the password change endpoint.
	ScopePasswordChange = "password_change"
)

const defaultAccessTokenTTL = 15 * time.Minute

// JWTManager coordinates signing key retrieval, token issuance and JWKS generation.
type JWTManager struct {
	KeyProvider KeyProvider
	issuer      string
	kid         string
	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
}

// NewJWTManager constructs a JWTManager signing with the provider's active key under kid.
func NewJWTManager(provider KeyProvider, issuer, kid string) *JWTManager {
	mgr := &JWTManager{
		KeyProvider: provider,
		issuer:      strings.TrimSpace(issuer),
		kid:         strings.TrimSpace(kid),
		publicKeys:  make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for id, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(id, key)
		}
	}

	return mgr
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// GetVerificationKey retrieves a public key by kid.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// JWKS produces the JSON Web Key Set for registered keys.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}

	return json.Marshal(map[string]any{"keys": keys})
}

// AccessTokenClaims carries the authenticated account, its roles at issue time and the scope
// granted by the login decision.
type AccessTokenClaims struct {
	UserID string   `json:"uid"`
	Email  string   `json:"email"`
	Scope  string   `json:"scope"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token was issued with scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	return c != nil && c.Scope == scope
}

// HasAnyRole reports whether the token carries at least one of roles.
func (c *AccessTokenClaims) HasAnyRole(roles ...string) bool {
	if c == nil {
		return false
	}
	for _, role := range roles {
		if slices.Contains(c.Roles, role) {
			return true
		}
	}
	return false
}

// AccessTokenOptions configures creation of access token claims.
type AccessTokenOptions struct {
	UserID   string
	Email    string
	Scope    string
	Roles    []string
	TTL      time.Duration
	IssuedAt time.Time
}

// IssueAccessToken signs a token for the supplied account and returns it with its expiry.
func (m *JWTManager) IssueAccessToken(opts AccessTokenOptions) (string, time.Time, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id is required")
	}
	if m.issuer == "" {
		return "", time.Time{}, fmt.Errorf("jwt: issuer is required")
	}
	if m.kid == "" {
		return "", time.Time{}, ErrKeyIDMissing
	}

	now := opts.IssuedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	scope := opts.Scope
	if scope == "" {
		scope = ScopeFull
	}

	expiresAt := now.Add(ttl)
	claims := &AccessTokenClaims{
		UserID: userID,
		Email:  strings.TrimSpace(opts.Email),
		Scope:  scope,
		Roles:  slices.Clone(opts.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(opts.Email),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	if m.KeyProvider == nil {
		return "", time.Time{}, fmt.Errorf("jwt: key provider not configured")
	}
	signingKey, err := m.KeyProvider.GetSigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature, issuer and expiry and returns the claims.
func (m *JWTManager) ParseAccessToken(raw string, now time.Time) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return m.GetVerificationKey(kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims, nil
}
