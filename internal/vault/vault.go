// Package vault encrypts tool-provider credentials at rest. Config refers to
// stored credentials as "vault:<name>"; the Keeper resolves those references
// at provider-call time.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// RefPrefix marks a credential value that must be resolved through the vault.
const RefPrefix = "vault:"

// IsRef reports whether value is a vault reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, RefPrefix)
}

// RefName extracts the secret name from a vault reference.
func RefName(value string) string {
	return strings.TrimPrefix(value, RefPrefix)
}

// Vault provides AES-256-GCM encryption/decryption with a passphrase-derived key.
type Vault struct {
	key [32]byte
}

// New creates a Vault by deriving an AES-256 key from the passphrase via Argon2id.
// The salt is deterministic (SHA-256 of passphrase), so the same passphrase always
// produces the same key across restarts.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)
	return v
}

// Encrypt encrypts plaintext using AES-256-GCM with a random nonce.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM with the provided nonce.
func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// SecretStore persists encrypted credential material. The SQLite store
// satisfies it.
type SecretStore interface {
	PutSecret(ctx context.Context, name string, value, nonce []byte) error
	GetSecret(ctx context.Context, name string) (value, nonce []byte, err error)
	ListSecretNames(ctx context.Context) ([]string, error)
	DeleteSecret(ctx context.Context, name string) error
}

// Keeper combines the cipher with a secret store into the credential
// surface the rest of the system uses.
type Keeper struct {
	vault   *Vault
	secrets SecretStore
}

func NewKeeper(passphrase string, secrets SecretStore) *Keeper {
	return &Keeper{vault: New(passphrase), secrets: secrets}
}

// Set encrypts and stores one named credential.
func (k *Keeper) Set(ctx context.Context, name, value string) error {
	ciphertext, nonce, err := k.vault.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt secret %q: %w", name, err)
	}
	return k.secrets.PutSecret(ctx, name, ciphertext, nonce)
}

// Get retrieves and decrypts one named credential.
func (k *Keeper) Get(ctx context.Context, name string) (string, error) {
	ciphertext, nonce, err := k.secrets.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	plaintext, err := k.vault.Decrypt(ciphertext, nonce)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	return string(plaintext), nil
}

// Resolve turns a configured credential into its usable value: vault
// references are looked up and decrypted, anything else passes through.
func (k *Keeper) Resolve(ctx context.Context, credential string) (string, error) {
	if !IsRef(credential) {
		return credential, nil
	}
	return k.Get(ctx, RefName(credential))
}

func (k *Keeper) List(ctx context.Context) ([]string, error) {
	return k.secrets.ListSecretNames(ctx)
}

func (k *Keeper) Delete(ctx context.Context, name string) error {
	return k.secrets.DeleteSecret(ctx, name)
}
