// Package common defines shared constants and sentinel errors used across
// the repository and service layers. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorUsernameTaken = errors.New("username already in use")
)
