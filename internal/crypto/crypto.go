// Package crypto implements the gateway's two cryptographic primitives
// (§4.A): AES-256-GCM encryption of credentials at rest, and SHA-256
// hashing of bearer tokens. Key handling and the blob layout follow an
// "explicit, no magic defaults" style: no implicit key derivation
// beyond the one documented fallback, no silently-accepted short keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // 96-bit IV, the GCM standard nonce length
)

// KeySource loads the process-global encryption key once at startup
// and never logs it. A 64-character hex string is decoded directly to
// 32 bytes; anything else is SHA-256-reduced to 32 bytes, so operators
// can hand the gateway a passphrase instead of a hex key.
type KeySource struct {
	key []byte
}

// NewKeySource derives the 32-byte AES-256 key from raw per §4.A.
func NewKeySource(raw string) (*KeySource, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("crypto: encryption key must not be empty")
	}

	if len(raw) == hex.EncodedLen(keySize) {
		if decoded, err := hex.DecodeString(raw); err == nil {
			return &KeySource{key: decoded}, nil
		}
	}

	sum := sha256.Sum256([]byte(raw))
	return &KeySource{key: sum[:]}, nil
}

// Cipher is a ready-to-use AES-256-GCM encryptor/decryptor bound to one
// key. Construct it once per process from a KeySource and share it.
type Cipher struct {
	gcm cipher.AEAD
}

func New(ks *KeySource) (*Cipher, error) {
	block, err := aes.NewCipher(ks.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to initialize AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to initialize GCM mode: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns a base64 blob packing IV ‖ ciphertext ‖ authTag, the
// order gcm.Seal produces; the tag is not placed between the IV and the
// ciphertext. A fresh random IV is generated for every call.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate IV: %w", err)
	}

	// Seal appends ciphertext‖tag to its first argument, so the result
	// is IV‖ciphertext‖tag; Decrypt splits it back the same way.
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, rejecting undersized or tampered blobs with
// an error (never a panic).
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed ciphertext encoding: %w", err)
	}

	overhead := c.gcm.Overhead()
	if len(raw) < nonceSize+overhead+1 {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", err)
	}
	return plaintext, nil
}

// HashToken returns the 64-hex-character SHA-256 digest of a raw bearer
// token. The raw token is never persisted; only this digest is.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewToken generates a fresh 32-byte random token, hex-encoded (64
// chars), suitable for returning to a client exactly once.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("crypto: failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
