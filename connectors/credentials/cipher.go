// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credentials

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrKeyTooShort is returned when the server-held secret is too short
	// to derive a key from.
	ErrKeyTooShort = errors.New("credential key must be at least 16 bytes")

	// ErrMalformedCiphertext is returned for input that is not a sealed
	// credential produced by Encrypt.
	ErrMalformedCiphertext = errors.New("malformed credential ciphertext")

	// ErrDecrypt is returned when authentication fails, which means the
	// ciphertext was tampered with or sealed under another key.
	ErrDecrypt = errors.New("credential decryption failed")
)

const (
	// MinKeyLength is the minimum accepted secret length in bytes
	MinKeyLength = 16

	ciphertextPrefix = "v1:"
	hkdfInfo         = "sqlgate connection profile credentials v1"
)

// Cipher seals connection passwords with XChaCha20-Poly1305 under a key
// derived from the server-held secret. The gateway never sees or rotates
// the secret itself.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AEAD key from secret with HKDF-SHA256.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}
	defer Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise credential cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromSource fetches the secret from src and builds a Cipher.
func NewCipherFromSource(ctx context.Context, src KeySource) (*Cipher, error) {
	secret, err := src.Key(ctx)
	if err != nil {
		return nil, err
	}
	defer Wipe(secret)
	return NewCipher(secret)
}

// Encrypt seals plaintext and returns "v1:" followed by the unpadded
// base64url encoding of nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return ciphertextPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. The caller owns the returned
// slice and should Wipe it when done.
func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return nil, ErrMalformedCiphertext
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext[len(ciphertextPrefix):])
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	if len(raw) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return nil, ErrMalformedCiphertext
	}

	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
