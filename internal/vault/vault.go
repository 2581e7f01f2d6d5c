package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var ErrNoSecret = errors.New("vault secret is not configured")

// Vault encrypts deposit and hot-wallet private keys at rest with AES-256-GCM.
// Ciphertexts are base64(nonce || sealed).
type Vault struct {
	aead cipher.AEAD
}

func New(secret, salt string) (*Vault, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	block, err := aes.NewCipher(deriveKey(secret, salt, 32))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{aead: gcm}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reports false for any malformed, truncated or tampered input.
func (v *Vault) Decrypt(ciphertext string) (string, bool) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", false
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return "", false
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
