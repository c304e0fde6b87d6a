package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

func TestSealedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	key, err := GenerateKey()
	require.NoError(t, err)

	backend := storage.NewMemory()
	s, err := NewSealedStore(backend, key)
	require.NoError(t, err)

	creds := cloudproviders.Credentials{
		"access_key_id":     "AKIAEXAMPLE",
		"secret_access_key": "shhh",
	}
	require.NoError(t, s.Seal(ctx, "acme", "prod", creds))

	got, err := s.GetDecryptedCredentials(ctx, "acme", "prod")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// The blob at rest must not contain the plaintext secret.
	rec, err := backend.GetCredential(ctx, "acme", "prod")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotContains(t, string(rec.Blob), "shhh")
}

func TestSealedStoreMissingAccount(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealedStore(storage.NewMemory(), key)
	require.NoError(t, err)

	_, err = s.GetDecryptedCredentials(context.Background(), "acme", "nope")
	assert.True(t, errors.Is(err, providers.ErrNoCredentials))
}

func TestSealedStoreWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()

	k1, _ := GenerateKey()
	s1, err := NewSealedStore(backend, k1)
	require.NoError(t, err)
	require.NoError(t, s1.Seal(ctx, "acme", "prod", cloudproviders.Credentials{"api_token": "tok"}))

	k2, _ := GenerateKey()
	s2, err := NewSealedStore(backend, k2)
	require.NoError(t, err)

	_, err = s2.GetDecryptedCredentials(ctx, "acme", "prod")
	assert.Error(t, err)
}

func TestNewSealedStoreRejectsBadKey(t *testing.T) {
	_, err := NewSealedStore(storage.NewMemory(), "dG9vLXNob3J0")
	assert.Error(t, err)

	_, err = NewSealedStore(storage.NewMemory(), "not base64!!!")
	assert.Error(t, err)
}

func TestStaticStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tenants:
  acme:
    prod-aws:
      access_key_id: AKIAEXAMPLE
      secret_access_key: secret
  globex:
    main-do:
      api_token: dop_v1_token
`), 0o600))

	s, err := LoadStatic(path)
	require.NoError(t, err)

	creds, err := s.GetDecryptedCredentials(context.Background(), "acme", "prod-aws")
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds["access_key_id"])

	_, err = s.GetDecryptedCredentials(context.Background(), "acme", "missing")
	assert.True(t, errors.Is(err, providers.ErrNoCredentials))

	_, err = s.GetDecryptedCredentials(context.Background(), "unknown", "prod-aws")
	assert.True(t, errors.Is(err, providers.ErrNoCredentials))
}
