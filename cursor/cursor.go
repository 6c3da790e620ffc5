// Package cursor encrypts pagination positions into opaque tokens.
//
// Callers receive a cursor on one page response and hand it back unmodified
// on exactly the next page request. The token is AES-GCM encrypted and
// authenticated under a process-wide secret with the request scope bound in
// as associated data, so a cursor cannot be parsed, forged, or replayed
// against a different scope. Rotating the secret invalidates every
// outstanding cursor; callers restart pagination from the beginning.
package cursor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sparkboardhq/sparkboard/model"
)

// ErrInvalidCursor is returned for any cursor that fails authentication,
// was minted under a different secret, belongs to a different scope, or is
// structurally malformed. Invalid cursors are rejected, never reinterpreted.
var ErrInvalidCursor = errors.New("cursor: invalid cursor")

// Codec encrypts and decrypts cursors. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives an AES-256-GCM codec from the process-wide secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("cursor: empty secret")
	}
	key := sha256.Sum256(secret)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cursor: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cursor: gcm init: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode seals a raw position token for the given scope into an opaque
// base64 string.
func (c *Codec) Encode(scope model.Scope, position []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cursor: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, position, []byte(scope))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a cursor minted by Encode for the same scope. Any failure —
// bad base64, truncated data, failed authentication, wrong scope — is
// reported as ErrInvalidCursor without detail.
func (c *Codec) Decode(scope model.Scope, token string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrInvalidCursor
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	position, err := c.aead.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return position, nil
}
