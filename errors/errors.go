// Package errors defines the error taxonomy shared by the store, the services and the api.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	ErrService    = "ERR_SERVICE"
	ErrNotFound   = "ERR_NOT_FOUND"
	ErrExists     = "ERR_EXISTS"
	ErrStore      = "ERR_STORE"
	ErrValidation = "ERR_VALIDATION"
	ErrAuth       = "ERR_NOT_AUTHORIZED"
	ErrBadJwt     = "ERR_BAD_JWT"
	ErrDecode     = "ERR_DECODE"
)

// Identity provider rejection reasons.
const (
	ReasonInvalidEmail  = "invalid-email"
	ReasonEmailInUse    = "email-already-in-use"
	ReasonWeakPassword  = "weak-password"
	ReasonWrongPassword = "wrong-password"
	ReasonUserNotFound  = "user-not-found"
	ReasonBadToken      = "bad-token"
)

// Coder is implemented by every error of the taxonomy.
type Coder interface {
	Code() string
}

// NotFoundError is returned when a requested document is absent.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("document %s/%s not found", e.Collection, e.ID)
}

// Code .
func (e NotFoundError) Code() string { return ErrNotFound }

// ExistsError is returned when a create-if-absent write finds the document already there.
type ExistsError struct {
	Collection string
	ID         string
}

func (e ExistsError) Error() string {
	return fmt.Sprintf("document %s/%s already exists", e.Collection, e.ID)
}

// Code .
func (e ExistsError) Code() string { return ErrExists }

// StoreError wraps a network, permission or backend failure.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store: %s: %s", e.Op, e.Err)
}

// Code .
func (e StoreError) Code() string { return ErrStore }

// Unwrap .
func (e StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a StoreError for the given operation.
func NewStoreError(op string, err error) StoreError {
	return StoreError{Op: op, Err: err}
}

// ValidationError is a local input validation failure detected before any call to the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Code .
func (e ValidationError) Code() string { return ErrValidation }

// AuthError is a rejection coming from the identity provider.
type AuthError struct {
	Field   string
	Reason  string
	Message string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("auth/%s: %s", e.Reason, e.Message)
}

// Code .
func (e AuthError) Code() string {
	if e.Reason == ReasonBadToken {
		return ErrBadJwt
	}
	return ErrAuth
}

// NewAuthError .
func NewAuthError(field, reason, msg string) AuthError {
	return AuthError{Field: field, Reason: reason, Message: msg}
}

// DecodeError is returned when a stored document doesn't match its collection schema.
type DecodeError struct {
	Collection string
	Err        error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode %s document: %s", e.Collection, e.Err)
}

// Code .
func (e DecodeError) Code() string { return ErrDecode }

// Unwrap .
func (e DecodeError) Unwrap() error { return e.Err }

// Code returns the code of the first taxonomy error found in err's chain, ErrService otherwise.
func Code(err error) string {
	var c Coder
	if stderrors.As(err, &c) {
		return c.Code()
	}
	return ErrService
}

// IsNotFound reports whether err's chain holds a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return stderrors.As(err, &nf)
}

// IsExists reports whether err's chain holds an ExistsError.
func IsExists(err error) bool {
	var ex ExistsError
	return stderrors.As(err, &ex)
}

// As is a shortcut for the standard errors.As.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
