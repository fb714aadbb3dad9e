// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netloc

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind
// when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrLocationNotFound indicates a location with the provided
	// identifier does not exist in the store.
	ErrLocationNotFound = ErrorKind("ErrLocationNotFound")

	// ErrInvalidLocation indicates a location record failed validation,
	// such as a missing identifier or an unparseable base URL.
	ErrInvalidLocation = ErrorKind("ErrInvalidLocation")

	// ErrStoreBusy indicates the store is temporarily unavailable due to
	// write contention.  Callers should treat this as a transient
	// condition and retry after a short pause.
	ErrStoreBusy = ErrorKind("ErrStoreBusy")

	// ErrStoreClosed indicates an operation was attempted against a store
	// that has already been closed.
	ErrStoreClosed = ErrorKind("ErrStoreClosed")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to network location storage.  It has
// full support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// storeError creates an Error given a set of arguments.
func storeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
