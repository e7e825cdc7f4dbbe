// Package cryptox holds the client-side key handling: the signing key is
// derived from the password with PBKDF2, and wallet blobs are sealed with
// AES-GCM under a separate argon2 key before they leave the client.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// SaltSize is the number of random bytes in a fresh salt.
const SaltSize = 16

var ErrShortBlob = errors.New("sealed blob too short")

// NewSalt returns SaltSize random bytes, hex encoded.
func NewSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DeriveSigningKey stretches password with PBKDF2-SHA256 into the seed of
// the account's Ed25519 key.
func DeriveSigningKey(password []byte, salt string, iterations int) ed25519.PrivateKey {
	seed := pbkdf2.Key(password, []byte(salt), iterations, ed25519.SeedSize, sha256.New)
	return ed25519.NewKeyFromSeed(seed)
}

// UserCheck returns the 6 hex digit code that, together with the username,
// identifies an account when its salt is requested.
func UserCheck(username string, password []byte) string {
	h := sha256.New()
	h.Write([]byte(username))
	h.Write([]byte{0})
	h.Write(password)
	return hex.EncodeToString(h.Sum(nil))[:6]
}

// DeriveBlobKey derives the AES-256 key wallet blobs are sealed with.
func DeriveBlobKey(password []byte, salt string) []byte {
	return argon2.IDKey(password, []byte("blob:"+salt), 1, 64*1024, 4, 32)
}

// SealBlob serializes v to JSON and encrypts it using AES-GCM. The result
// is base64(nonce || ciphertext), suitable as a stored blob.
func SealBlob(v any, key []byte) (string, error) {

	// serializing JSON
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// nonce
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	// encrypting
	sealed := aesgcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenBlob reverses SealBlob and unmarshals the plaintext into v.
func OpenBlob(blob string, key []byte, v any) error {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(sealed) < aesgcm.NonceSize() {
		return ErrShortBlob
	}

	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
