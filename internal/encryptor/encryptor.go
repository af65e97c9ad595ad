// Package encryptor seals upload payloads with a password before they leave
// the machine.
package encryptor

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
)

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = saltSize + nonceSize + chacha20poly1305.Overhead

var (
	ErrEmptyPassword = errors.New("password is empty")
	// ErrOpen covers both a wrong password and tampered content.
	ErrOpen = errors.New("cannot open sealed content")
)

func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
}

// Seal encrypts plaintext with a key derived from password. The result is
// laid out as salt|nonce|ciphertext.
func Seal(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	out := make([]byte, saltSize+nonceSize, len(plaintext)+Overhead)
	salt, nonce := out[:saltSize], out[saltSize:]
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate salt and nonce: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("sealed content too short: %w", ErrOpen)
	}

	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plaintext, nil
}
