package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
)

const nonceSize = 24

// ErrDecrypt signals a ciphertext that could not be opened with the configured key.
var ErrDecrypt = fmt.Errorf("ciphertext could not be decrypted")

// Codec seals and opens the payloads this service keeps encrypted at rest:
// identity records on tracked events and surface delivery credentials.
// Plaintext only ever exists inside this process.
type Codec struct {
	key [32]byte
}

// NewCodec builds a Codec from the configured base64 key.
func NewCodec(cfg config.SecurityConfig) (*Codec, error) {
	raw, err := base64.StdEncoding.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}
	codec := &Codec{}
	copy(codec.key[:], raw)
	return codec, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prepended to
// the returned ciphertext.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *Codec) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptJSON marshals value and seals the result.
func (c *Codec) EncryptJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.Encrypt(raw)
}

// DecryptJSON opens ciphertext and unmarshals it into dest.
func (c *Codec) DecryptJSON(ciphertext []byte, dest any) error {
	raw, err := c.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// EncryptString seals a string value (used for surface credentials).
func (c *Codec) EncryptString(value string) ([]byte, error) {
	return c.Encrypt([]byte(value))
}

// DecryptString opens a ciphertext into a string.
func (c *Codec) DecryptString(ciphertext []byte) (string, error) {
	raw, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
