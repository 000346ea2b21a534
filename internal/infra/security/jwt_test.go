package security

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	provider, err := NewEphemeralKeyProvider("test-key")
	if err != nil {
		t.Fatalf("NewEphemeralKeyProvider: %v", err)
	}
	return NewJWTManager(provider, "authguard", provider.SigningKID())
}

func TestIssueAndParseAccessToken(t *testing.T) {
	mgr := newTestManager(t)
	issuedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	token, expiresAt, err := mgr.IssueAccessToken(AccessTokenOptions{
		UserID:   "acc-1",
		Email:    "ada@example.com",
		Scope:    ScopePasswordChange,
		Roles:    []string{"user", "editor"},
		TTL:      10 * time.Minute,
		IssuedAt: issuedAt,
	})
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}
	if !expiresAt.Equal(issuedAt.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := mgr.ParseAccessToken(token, issuedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("ParseAccessToken returned error: %v", err)
	}
	if claims.UserID != "acc-1" || claims.Subject != "ada@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasScope(ScopePasswordChange) || claims.HasScope(ScopeFull) {
		t.Fatalf("unexpected scope %q", claims.Scope)
	}
	if !claims.HasAnyRole("admin", "editor") || claims.HasAnyRole("admin") {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	mgr := newTestManager(t)
	issuedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	token, _, err := mgr.IssueAccessToken(AccessTokenOptions{UserID: "acc-1", Email: "ada@example.com", TTL: time.Minute, IssuedAt: issuedAt})
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}

	if _, err := mgr.ParseAccessToken(token, issuedAt.Add(2*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseAccessTokenRejectsForeignKey(t *testing.T) {
	mgr := newTestManager(t)
	other := newTestManager(t)
	now := time.Now()

	token, _, err := other.IssueAccessToken(AccessTokenOptions{UserID: "acc-1", Email: "ada@example.com", IssuedAt: now})
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}
	if _, err := mgr.ParseAccessToken(token, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWKSListsSigningKey(t *testing.T) {
	mgr := newTestManager(t)

	payload, err := mgr.JWKS()
	if err != nil {
		t.Fatalf("JWKS returned error: %v", err)
	}

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0]["kid"] != "test-key" || doc.Keys[0]["alg"] != "RS256" {
		t.Fatalf("unexpected jwks: %s", payload)
	}
}

func TestFileKeyProviderLoadsPEM(t *testing.T) {
	ephemeral, err := NewEphemeralKeyProvider("unused")
	if err != nil {
		t.Fatalf("NewEphemeralKeyProvider: %v", err)
	}
	dir := t.TempDir()
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(ephemeral.key)}
	if err := os.WriteFile(filepath.Join(dir, "primary.pem"), pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	provider, err := NewFileKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewFileKeyProvider returned error: %v", err)
	}
	if provider.SigningKID() != "primary" {
		t.Fatalf("unexpected kid %q", provider.SigningKID())
	}
	if _, err := provider.GetVerificationKey("primary"); err != nil {
		t.Fatalf("GetVerificationKey returned error: %v", err)
	}
	if _, err := provider.GetVerificationKey("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestNewKeyProviderFallsBackOutsideProduction(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	provider, kid, err := NewKeyProvider("development", missing)
	if err != nil {
		t.Fatalf("NewKeyProvider returned error: %v", err)
	}
	if provider == nil || kid == "" {
		t.Fatal("expected ephemeral provider")
	}

	if _, _, err := NewKeyProvider("production", missing); err == nil {
		t.Fatal("expected error in production without keys")
	}
}
