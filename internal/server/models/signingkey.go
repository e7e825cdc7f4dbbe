package models

import "time"

// KeyType classifies what a signing key may be used for.
type KeyType string

const (
	KeyTypePublicKey KeyType = "publickey"
	KeyTypeTFA       KeyType = "tfa"
	KeyTypeReadOnly  KeyType = "readonly"
)

// SigningKey is a public key registered to an account together with the
// highest nonce it has been seen with.
type SigningKey struct {
	ID            int64
	AccountID     int64
	Key           []byte
	KeyType       KeyType
	LastNonce     int64
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// KeyOwner is an active signing key joined with its active account.
type KeyOwner struct {
	Key      SigningKey
	Username string
}
