package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is the stored form of a tenant API key. Only the secret hash is
// persisted; the full key is shown to the caller exactly once.
type APIKey struct {
	KeyID     string     `json:"key_id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	Scopes    []string   `json:"scopes"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// KeyStore persists API keys. Implemented by the database package.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, keyID string) (*APIKey, error)
}

// CreateAPIKey mints a key with format txp_<id>.<secret>. The id is the
// lookup handle; only the secret is hashed.
func CreateAPIKey(ctx context.Context, store KeyStore, tenantID, name string, scopes []string) (*APIKey, string, error) {
	idBytes := make([]byte, 8)
	rand.Read(idBytes)
	keyID := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 24)
	rand.Read(secretBytes)
	secret := hex.EncodeToString(secretBytes)

	fullKey := fmt.Sprintf("txp_%s.%s", keyID, secret)

	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		KeyID:    keyID,
		TenantID: tenantID,
		Name:     name,
		KeyHash:  string(secretHash),
		Scopes:   scopes,
		IsActive: true,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, fullKey, nil
}

// ValidateAPIKey checks a presented key and returns its tenant id.
func ValidateAPIKey(ctx context.Context, store KeyStore, fullKey string) (string, error) {
	if !strings.HasPrefix(fullKey, "txp_") {
		return "", errors.New("invalid key format")
	}
	parts := strings.Split(strings.TrimPrefix(fullKey, "txp_"), ".")
	if len(parts) != 2 {
		return "", errors.New("invalid key format")
	}

	key, err := store.GetAPIKey(ctx, parts[0])
	if err != nil {
		return "", fmt.Errorf("lookup failed: %w", err)
	}
	if key == nil {
		return "", errors.New("invalid api key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(parts[1])); err != nil {
		return "", errors.New("invalid api key secret")
	}
	if !key.IsActive {
		return "", errors.New("api key inactive")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return "", errors.New("api key expired")
	}
	return key.TenantID, nil
}
