package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrKeyNotFound = errors.New("key not found")

// KeyProvider defines the interface for providing cryptographic keys.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// FileKeyProvider serves PEM keys loaded from a directory. The kid of each key is its file name
// without extension; the first private key found signs tokens.
type FileKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKey *rsa.PrivateKey
	signingKID string
}

// NewFileKeyProvider loads every PEM file in keyDir.
func NewFileKeyProvider(keyDir string) (*FileKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	provider := &FileKeyProvider{keys: make(map[string]*rsa.PublicKey)}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		private, public, err := parsePEMKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
		if private != nil && provider.signingKey == nil {
			provider.signingKey = private
			provider.signingKID = kid
		}
		provider.keys[kid] = public
	}

	if provider.signingKey == nil {
		return nil, errors.New("no private key found for signing")
	}

	return provider, nil
}

func parsePEMKey(data []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("no PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, &rsaKey.PublicKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil, key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey, nil
		}
	}

	return nil, nil, errors.New("unsupported key type")
}

// GetSigningKey returns the private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.signingKey, nil
}

// SigningKID returns the kid of the signing key.
func (p *FileKeyProvider) SigningKID() string {
	return p.signingKID
}

// GetVerificationKey returns the public key for verifying tokens.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys exposes every loaded public key for JWKS publication.
func (p *FileKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// EphemeralKeyProvider holds a single in-memory RSA key. Tokens do not survive a restart.
type EphemeralKeyProvider struct {
	key *rsa.PrivateKey
	kid string
}

// NewEphemeralKeyProvider generates a fresh 2048-bit key under kid.
func NewEphemeralKeyProvider(kid string) (*EphemeralKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &EphemeralKeyProvider{key: key, kid: kid}, nil
}

// GetSigningKey returns the generated key.
func (p *EphemeralKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.key, nil
}

// SigningKID returns the kid the key was generated under.
func (p *EphemeralKeyProvider) SigningKID() string {
	return p.kid
}

// GetVerificationKey returns the public half of the generated key.
func (p *EphemeralKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.key.PublicKey, nil
}

// ListVerificationKeys exposes the generated public key for JWKS publication.
func (p *EphemeralKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider loads keys from keyDir. Outside production a missing directory falls back to an
// ephemeral key so the service can start without provisioning.
func NewKeyProvider(env, keyDir string) (KeyProvider, string, error) {
	provider, err := NewFileKeyProvider(keyDir)
	if err == nil {
		return provider, provider.SigningKID(), nil
	}
	if env == "production" {
		return nil, "", err
	}

	ephemeral, genErr := NewEphemeralKeyProvider("ephemeral")
	if genErr != nil {
		return nil, "", genErr
	}
	return ephemeral, ephemeral.SigningKID(), nil
}
