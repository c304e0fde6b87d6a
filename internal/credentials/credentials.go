// Package credentials resolves provider API credentials for an account.
// The sealed store keeps them encrypted at rest in the storage backend; the
// static store serves them from a YAML file for development setups.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// Store resolves the decrypted credential set for one account.
type Store interface {
	GetDecryptedCredentials(ctx context.Context, tenant, accountID string) (cloudproviders.Credentials, error)
}

// SealedStore encrypts credential bundles with XChaCha20-Poly1305 before
// handing them to the storage backend. The blob layout is nonce followed by
// ciphertext.
type SealedStore struct {
	backend storage.Storage
	key     []byte
}

// NewSealedStore builds a SealedStore from a base64-encoded 32-byte key,
// typically the COSTSYNC_CREDENTIALS_KEY environment value.
func NewSealedStore(backend storage.Storage, encodedKey string) (*SealedStore, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials key: want %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SealedStore{backend: backend, key: key}, nil
}

// GenerateKey returns a fresh base64-encoded key suitable for NewSealedStore.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (s *SealedStore) GetDecryptedCredentials(ctx context.Context, tenant, accountID string) (cloudproviders.Credentials, error) {
	rec, err := s.backend.GetCredential(ctx, tenant, accountID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, providers.ErrNoCredentials
	}
	return s.open(rec.Blob)
}

// Seal encrypts creds and saves them for the account.
func (s *SealedStore) Seal(ctx context.Context, tenant, accountID string, creds cloudproviders.Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	blob := aead.Seal(nonce, nonce, plain, nil)

	return s.backend.SaveCredential(ctx, storage.CredentialRecord{
		ID:        tenant + "/" + accountID,
		Tenant:    tenant,
		AccountID: accountID,
		Blob:      blob,
	})
}

func (s *SealedStore) open(blob []byte) (cloudproviders.Credentials, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("credential blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credential blob: %w", err)
	}

	var creds cloudproviders.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}
