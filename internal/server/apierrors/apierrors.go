// Package apierrors is the error taxonomy reported to clients inside signed
// error envelopes. Every Error carries a stable numeric code, a
// human-readable reason and the HTTP status it is served with.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/deglet/internal/common"
)

// Code is a stable numeric error identifier.
type Code int

const (
	CodeNotFound Code = 404

	CodeGeneric          Code = 700
	CodeMissingArguments Code = 701
	CodeInvalidMessage   Code = 702

	CodeInvalidSignature    Code = 900
	CodeInvalidNonce        Code = 901
	CodeUsernameInUse       Code = 902
	CodeInvalidAddressCount Code = 903

	CodeUsernameTooLong Code = 1000
	CodeLowIterCount    Code = 1001
	CodeBadSalt         Code = 1002
	CodeBlobTooLong     Code = 1003
	CodeCosigner        Code = 1004

	CodeCosigningDisabled Code = 1404
	CodeTooManyBlobs      Code = 1429
	CodeCosignerFailure   Code = 1500
)

// Error is a client-facing error.
type Error struct {
	Code   Code
	Reason string
	Status int
}

// New creates an Error served with 400 Bad Request.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason, Status: http.StatusBadRequest}
}

// WithStatus returns a copy of e served with the given HTTP status.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// Unauthorized returns a copy of e served with 401.
func (e *Error) Unauthorized() *Error {
	return e.WithStatus(http.StatusUnauthorized)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}

// Is matches errors by code so errors.Is(err, apierrors.InvalidNonce) holds
// regardless of the status a copy carries.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// HTTPStatus returns the status e is served with, defaulting to 400.
func (e *Error) HTTPStatus() int {
	if e == nil || e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

var (
	UserNotFound     = New(CodeNotFound, "user not found")
	WalletNotFound   = New(CodeNotFound, "wallet not found")
	CosignerNotFound = New(CodeNotFound, "cosigner not found for this wallet")

	GenericError     = New(CodeGeneric, "request could not be processed")
	MissingArguments = New(CodeMissingArguments, "request is missing arguments")
	InvalidMessage   = New(CodeInvalidMessage, "invalid JWS message")

	InvalidSignature    = New(CodeInvalidSignature, "signature does not match")
	InvalidNonce        = New(CodeInvalidNonce, "nonce must be positive and greater than the last one")
	UsernameInUse       = New(CodeUsernameInUse, "username already in use")
	InvalidAddressCount = New(CodeInvalidAddressCount, fmt.Sprintf("num must be between 1 and %d", common.MaxNewAddress))

	UsernameTooLong = New(CodeUsernameTooLong, fmt.Sprintf("username is too long, keep it below %d chars", common.MaxUsernameLen))
	LowIterCount    = New(CodeLowIterCount, fmt.Sprintf("iteration count must be at least %d", common.MinIterCount))
	BadSalt         = New(CodeBadSalt, "salt is not random enough")
	BlobTooLong     = New(CodeBlobTooLong, fmt.Sprintf("blob is too long, keep it below %d chars", common.MaxBlobLen))

	CosigningDisabled = New(CodeCosigningDisabled, "cosigning not available")
	TooManyBlobs      = New(CodeTooManyBlobs, "no more blobs allowed for this account")
	CosignerError     = New(CodeCosignerFailure, "cosigner could not complete request")

	// Internal is GenericError for failures the client did not cause.
	Internal = GenericError.WithStatus(http.StatusInternalServerError)
)

// Cosigner wraps a reason reported by the upstream cosigner.
func Cosigner(reason string) *Error {
	return New(CodeCosigner, reason)
}

// FromError extracts an *Error from err's chain.
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Body is the payload of a signed error envelope.
type Body struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// Body renders e as the payload clients receive.
func (e *Error) Body() Body {
	return Body{Error: e.Reason, Code: e.Code}
}
