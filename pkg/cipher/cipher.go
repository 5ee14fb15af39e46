// Package cipher encrypts file payloads before they leave the broker.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum length of the configured secret.
const MinKeyLength = 32

const keyInfo = "nodebroker file payload v1"

var (
	// ErrKeyTooShort is returned for secrets shorter than MinKeyLength.
	ErrKeyTooShort = errors.New("encryption key too short")
	// ErrInvalidCiphertext is returned when a payload cannot be decrypted.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Cipher seals payloads with AES-256-GCM. The nonce is prepended to the
// ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the AES key from secret with HKDF-SHA256.
func New(secret string) (*Cipher, error) {
	if len(secret) < MinKeyLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrKeyTooShort, MinKeyLength)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}
