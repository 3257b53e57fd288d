package tenantconfig

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts tenant credentials at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

var ErrDecrypt = errors.New("tenantconfig: credential decryption failed")

// ChaChaCipher is an XChaCha20-Poly1305 Cipher. Ciphertexts are base64 of
// nonce || sealed box.
type ChaChaCipher struct {
	key []byte
}

// NewChaChaCipher takes a 32-byte key.
func NewChaChaCipher(key []byte) (*ChaChaCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("tenantconfig: cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &ChaChaCipher{key: k}, nil
}

// NewChaChaCipherFromBase64 decodes a standard base64 key.
func NewChaChaCipherFromBase64(encoded string) (*ChaChaCipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: decode cipher key: %w", err)
	}
	return NewChaChaCipher(key)
}

// GenerateKey returns a random base64 key for NewChaChaCipherFromBase64.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (c *ChaChaCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *ChaChaCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Join(ErrDecrypt, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.Join(ErrDecrypt, errors.New("ciphertext too short"))
	}
	nonce, box := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", errors.Join(ErrDecrypt, err)
	}
	return string(plain), nil
}
