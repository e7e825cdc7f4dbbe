// Package models defines server-side data models persisted in the database.
package models

import "time"

// Account is a registered user. Salt and Iterations are handed back to the
// client so it can re-derive its signing key from the password.
type Account struct {
	ID            int64
	Username      string
	UserCheck     string
	Salt          string
	Iterations    int64
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}
