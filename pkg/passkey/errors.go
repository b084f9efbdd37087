// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"errors"
	"fmt"
)

// Sentinel errors for passkey ceremony operations.
var (
	// ErrSessionNotFound is returned when a ceremony session does not exist.
	// Expired sessions are reported as not found by readers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned by Consume when the physical record
	// still exists but is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionConsumed is returned when a session has already been
	// consumed by a previous finish call.
	ErrSessionConsumed = errors.New("session already consumed")

	// ErrSessionExists is returned when creating a session whose ID is
	// already present. Session IDs must be freshly generated per attempt.
	ErrSessionExists = errors.New("session already exists")

	// ErrVerificationFailed is returned when attestation or assertion
	// verification fails.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrUnknownCredential is returned when an assertion references a
	// credential that is not registered.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrCredentialConflict is returned when a credential ID is already
	// registered.
	ErrCredentialConflict = errors.New("credential already registered")

	// ErrStaleSignCount is returned when an authenticator reports a
	// signature counter that did not advance. This is a possible cloned
	// authenticator and is surfaced distinctly from ErrVerificationFailed
	// so callers can audit it separately.
	ErrStaleSignCount = errors.New("stale signature counter")

	// ErrUserNotFound is returned by the directory when a username has no
	// account.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned by the directory when creating a username
	// that already has an account.
	ErrUserExists = errors.New("user already exists")

	// ErrDirectoryUnavailable is returned when the identity directory
	// cannot be reached. Transient; callers may retry the whole ceremony.
	ErrDirectoryUnavailable = errors.New("identity directory unavailable")

	// ErrStoreUnavailable is returned when a storage backend fails for a
	// reason outside the ceremony taxonomy (timeout, connectivity).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// CeremonyError wraps an error with the operation that failed.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsSessionNotFound returns true if the error indicates a session was not found.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsSessionExpired returns true if the error indicates a session has expired.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsSessionConsumed returns true if the error indicates a session was already consumed.
func IsSessionConsumed(err error) bool {
	return errors.Is(err, ErrSessionConsumed)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsStaleSignCount returns true if the error indicates a signature counter regression.
func IsStaleSignCount(err error) bool {
	return errors.Is(err, ErrStaleSignCount)
}

// IsCredentialConflict returns true if the error indicates a duplicate credential ID.
func IsCredentialConflict(err error) bool {
	return errors.Is(err, ErrCredentialConflict)
}

// IsTransient returns true for failures that are safe to retry with a fresh
// ceremony: store or directory unavailability, as opposed to protocol-level
// failures which are terminal for the attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDirectoryUnavailable)
}
