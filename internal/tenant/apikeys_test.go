package tenant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKeyStore struct {
	keys map[string]*APIKey
}

func newMemoryKeyStore() *memoryKeyStore {
	return &memoryKeyStore{keys: make(map[string]*APIKey)}
}

func (s *memoryKeyStore) CreateAPIKey(_ context.Context, key *APIKey) error {
	s.keys[key.KeyID] = key
	return nil
}

func (s *memoryKeyStore) GetAPIKey(_ context.Context, keyID string) (*APIKey, error) {
	return s.keys[keyID], nil
}

func TestAPIKeyMintAndValidate(t *testing.T) {
	store := newMemoryKeyStore()
	ctx := context.Background()

	key, fullKey, err := CreateAPIKey(ctx, store, "org1", "erp-ingest", []string{"transactions:write"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fullKey, "txp_"))
	// The secret is never stored in the clear.
	assert.NotContains(t, key.KeyHash, strings.Split(fullKey, ".")[1])

	tenantID, err := ValidateAPIKey(ctx, store, fullKey)
	require.NoError(t, err)
	assert.Equal(t, "org1", tenantID)
}

func TestAPIKeyValidationRejections(t *testing.T) {
	store := newMemoryKeyStore()
	ctx := context.Background()

	key, fullKey, err := CreateAPIKey(ctx, store, "org1", "k", nil)
	require.NoError(t, err)

	_, err = ValidateAPIKey(ctx, store, "not-a-key")
	require.Error(t, err)

	_, err = ValidateAPIKey(ctx, store, "txp_deadbeef.wrongsecret")
	require.Error(t, err)

	// Wrong secret for a real key id.
	_, err = ValidateAPIKey(ctx, store, "txp_"+key.KeyID+".wrongsecret")
	require.Error(t, err)

	// Deactivated key.
	key.IsActive = false
	_, err = ValidateAPIKey(ctx, store, fullKey)
	require.Error(t, err)
	key.IsActive = true

	// Expired key.
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	_, err = ValidateAPIKey(ctx, store, fullKey)
	require.Error(t, err)
}
