// Package crypto seals bank aggregator access tokens with AES-256-GCM before
// they are stored.
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

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// tokenVersion prefixes every sealed token.
const tokenVersion = "v1."

// ErrMalformedToken is returned for sealed tokens without a known version prefix.
var ErrMalformedToken = errors.New("sealed token is malformed")

// AESEncryptor is an AES-256-GCM sealer.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an AES-256-GCM encryptor.
// The key must be exactly 32 bytes.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext, authenticating additionalData with it, and returns
// base64(nonce | ciphertext | tag).
func (e *AESEncryptor) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, additionalData)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Decrypt opens a value produced by Encrypt with the same additionalData.
func (e *AESEncryptor) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(decoded) < nonceSize+e.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, decoded[:nonceSize], decoded[nonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// SealToken encrypts a bank access token for customerID. The customer id is
// authenticated with the token: a sealed value moved to another customer's
// row does not open.
func (e *AESEncryptor) SealToken(customerID, token string) (string, error) {
	out, err := e.Encrypt([]byte(token), tokenAAD(customerID))
	if err != nil {
		return "", err
	}
	return tokenVersion + string(out), nil
}

// OpenToken reverses SealToken for the same customer.
func (e *AESEncryptor) OpenToken(customerID, sealed string) (string, error) {
	body, ok := strings.CutPrefix(sealed, tokenVersion)
	if !ok {
		return "", ErrMalformedToken
	}
	out, err := e.Decrypt([]byte(body), tokenAAD(customerID))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func tokenAAD(customerID string) []byte {
	return []byte("bank-link:" + customerID)
}

// GenerateKey generates a cryptographically secure 32-byte key for AES-256.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKeyBase64 encodes a key for the ENCRYPTION_KEY variable.
func EncodeKeyBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKeyBase64 decodes ENCRYPTION_KEY and checks its length.
func DecodeKeyBase64(encodedKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
