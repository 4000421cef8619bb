package securestore

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SaltLength is the size of the per-store salt mixed into key derivation.
	SaltLength = 16

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// Sealer encrypts values at rest with XChaCha20-Poly1305. The storage key is bound
// as additional data so a value copied into another slot fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an encryption key from the device secret and the store salt.
func NewSealer(secret, salt []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("[NewSealer] device secret is required")
	}
	if len(salt) < SaltLength {
		return nil, fmt.Errorf("[NewSealer] salt must be at least %d bytes", SaltLength)
	}

	key := argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("[NewSealer] chacha20poly1305.NewX: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSalt returns fresh random salt for a new store.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext for the given storage key. The nonce is prepended.
func (s *Sealer) Seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

// Open reverses Seal. Any failure is reported as ErrCorrupt.
func (s *Sealer) Open(key string, sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed value too short: %w", ErrCorrupt)
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCorrupt)
	}
	return plaintext, nil
}
