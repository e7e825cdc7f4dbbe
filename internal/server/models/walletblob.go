package models

import "time"

// WalletBlob is an opaque client payload with a bounded update budget.
type WalletBlob struct {
	ID          string
	AccountID   int64
	Blob        []byte
	UpdatesLeft int64
	CreatedAt   time.Time
}
