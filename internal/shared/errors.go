package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing, invalid or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAccountInactive indicates the caller's account has been deactivated.
	ErrAccountInactive = errors.New("account is deactivated")
	// ErrForbidden indicates a failed role, permission, self or escalation gate.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput indicates malformed input such as an unknown permission token.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a business rule violation on the current state.
	ErrConflict = errors.New("conflict")
)
