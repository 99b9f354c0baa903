package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
)

// DecryptionError is returned for ciphertext that is corrupt or was sealed
// under another key. It unwraps to apperr.ErrCredentialUnusable.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return "decrypt credential: " + e.Err.Error()
}

func (e *DecryptionError) Unwrap() []error {
	return []error{apperr.ErrCredentialUnusable, e.Err}
}

var errTruncated = errors.New("ciphertext too short")

// Vault seals tenant access tokens at rest with XChaCha20-Poly1305.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d",
			apperr.ErrConfigurationFatal, chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConfigurationFatal, err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromBase64 decodes ENCRYPTION_KEY. An empty key is fatal.
func NewFromBase64(encoded string) (*Vault, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not set", apperr.ErrConfigurationFatal)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not valid base64", apperr.ErrConfigurationFatal)
	}
	return New(key)
}

// GenerateKey returns a fresh base64 key suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a random nonce. Output is base64url(nonce || sealed).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Every failure is a *DecryptionError.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	if len(data) < v.aead.NonceSize()+v.aead.Overhead() {
		return "", &DecryptionError{Err: errTruncated}
	}
	nonce, sealed := data[:v.aead.NonceSize()], data[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plain), nil
}

// AccessToken returns the tenant's plaintext token. A tenant without a token,
// or with one that no longer decrypts, must re-authorize.
func (v *Vault) AccessToken(t *model.Tenant) (string, error) {
	if !t.HasCredential() {
		return "", fmt.Errorf("tenant %s has no access token: %w", t.TenantKey, apperr.ErrCredentialUnusable)
	}
	token, err := v.Decrypt(*t.AccessToken)
	if err != nil {
		return "", fmt.Errorf("tenant %s: %w", t.TenantKey, err)
	}
	return token, nil
}
