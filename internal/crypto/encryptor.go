// Package crypto seals data-source credentials at rest. Connection passwords
// are encrypted before they reach the database and decrypted only inside the
// engine when a connector is built.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidKeySize = errors.New("crypto: key must be 32 bytes")

type Encryptor interface {
	Encrypt(plain string) (string, error)
	Decrypt(sealed string) (string, error)
}

// AESGCM encrypts with AES-256-GCM. The nonce is prepended to the ciphertext
// and the whole blob is base64-encoded for storage in a text column.
type AESGCM struct {
	key []byte
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	return &AESGCM{key: key}, nil
}

// KeyFromString accepts either a base64-encoded 32-byte key or a raw 32-byte
// string, which is how deployments pass ENCRYPTION_KEY.
func KeyFromString(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(value) == 32 {
		return []byte(value), nil
	}
	return nil, fmt.Errorf("%w (raw or base64)", ErrInvalidKeySize)
}

func (e *AESGCM) Encrypt(plain string) (string, error) {
	gcm, err := e.cipher()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESGCM) Decrypt(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	gcm, err := e.cipher()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}

func (e *AESGCM) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
