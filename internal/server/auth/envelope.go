// Package auth parses and produces signed envelopes: compact JWS messages
// signed with Ed25519 whose "kid" header carries the signer's public key.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Algorithm is the only JWS algorithm accepted and produced.
	Algorithm = "EdDSA"

	// ResponseValidity is how long a signed response stays valid.
	ResponseValidity = time.Hour
)

var (
	ErrInvalidMessage     = errors.New("invalid JWS message")
	ErrSignatureMismatch  = errors.New("signature does not match")
	ErrInvalidKeyID       = errors.New("invalid key id")
	ErrUnsupportedAlg     = errors.New("unsupported signing algorithm")
	ErrInvalidSigningSeed = errors.New("signing key must be a 32 byte hex encoded seed")
)

// Header is the part of the JWS protected header the server relies on.
type Header struct {
	KeyID     string
	Algorithm string
	Key       ed25519.PublicKey
}

// Envelope is a verified inbound message.
type Envelope struct {
	Header Header
	Claims Claims
}

// Verify checks raw against the public key named in its header and the
// expected audience. Malformed input, unsupported algorithms, bad key ids,
// audience mismatch and expired messages yield ErrInvalidMessage; a
// signature that does not validate yields ErrSignatureMismatch.
func Verify(raw string, audience string) (*Envelope, error) {
	var header Header

	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrUnsupportedAlg
		}
		kid, _ := t.Header["kid"].(string)
		key, err := DecodePublicKey(kid)
		if err != nil {
			return nil, err
		}
		header = Header{KeyID: kid, Algorithm: t.Method.Alg(), Key: key}
		return key, nil
	}

	parser := jwt.NewParser(jwt.WithAudience(audience), jwt.WithJSONNumber())

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return &Envelope{Header: header, Claims: Claims(claims)}, nil
}

// SignClaims signs claims as-is with key, naming the key in the header.
func SignClaims(claims Claims, key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrInvalidSigningSeed
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims(claims))
	token.Header["kid"] = EncodePublicKey(key.Public().(ed25519.PublicKey))
	return token.SignedString(key)
}

// Sign wraps payload into a response envelope addressed to audience.
// For fixed inputs the output is byte-for-byte stable.
func Sign(payload any, key ed25519.PrivateKey, audience string, issuedAt time.Time) (string, error) {
	iat := issuedAt.Unix()
	return SignClaims(Claims{
		"aud":  audience,
		"iat":  iat,
		"exp":  iat + int64(ResponseValidity/time.Second),
		"data": payload,
	}, key)
}

// EncodePublicKey renders a public key as the lowercase hex key id.
func EncodePublicKey(key ed25519.PublicKey) string {
	return hex.EncodeToString(key)
}

// DecodePublicKey parses a hex key id back into a public key.
func DecodePublicKey(kid string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(kid)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeyID
	}
	return ed25519.PublicKey(b), nil
}

// KeyFromSeed builds a private key from a hex encoded 32 byte seed.
func KeyFromSeed(seedHex string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSigningSeed
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// GenerateSeed returns a fresh hex encoded seed and the key id it yields.
func GenerateSeed() (seedHex string, kid string, err error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", "", err
	}
	key := ed25519.NewKeyFromSeed(seed)
	return hex.EncodeToString(seed), EncodePublicKey(key.Public().(ed25519.PublicKey)), nil
}

// Fingerprint shortens a key id for log lines.
func Fingerprint(kid string) string {
	if len(kid) > 12 {
		return kid[:12]
	}
	return kid
}
