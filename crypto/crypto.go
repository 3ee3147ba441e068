// Package crypto seals configuration secrets with AES-256-GCM so client
// secrets and API keys can sit in env files and compose manifests as
// "enc:<base64>" values instead of plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prefix marks a sealed value.
const Prefix = "enc:"

// ErrNoKey is returned when a sealed value is found but no key is configured.
var ErrNoKey = errors.New("value is encrypted but ENCRYPTION_KEY is not set")

// Encryptor provides authenticated encryption of raw bytes.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key,
// as produced by `openssl rand -base64 32`.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: gcm}, nil
}

// Encrypt returns nonce || ciphertext || tag with a fresh random nonce.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt, failing when the data was tampered with or the key differs.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		// Keep internal details out of the message.
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// Seal encrypts a secret into its "enc:<base64>" form.
func Seal(enc Encryptor, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	ct, err := enc.Encrypt([]byte(secret))
	if err != nil {
		return "", err
	}
	return Prefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open returns the plaintext of a sealed value. Values without the prefix are
// returned unchanged, so plaintext configuration keeps working. enc may be nil
// when no key is configured; opening a sealed value then fails with ErrNoKey.
func Open(enc Encryptor, value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	if enc == nil {
		return "", ErrNoKey
	}
	ct, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := enc.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
