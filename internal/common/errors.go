// Package common defines shared sentinel errors used across the drive
// server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrNotFound covers both an absent item and insufficient access level.
	// The two cases are deliberately indistinguishable so that callers
	// cannot probe for the existence of items they were never granted.
	ErrNotFound = errors.New("not found or access denied")

	// Validation errors (malformed id, unknown access level, empty required field).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict marks requests that contradict current state,
	// e.g. sharing an item with oneself or moving a folder into its
	// own descendant.
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded is returned when an upload would push the account
	// past its storage limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrBusy is returned when the upload admission controller has no
	// free permits. The request is shed, not queued.
	ErrBusy = errors.New("server busy")

	// ErrIntegrity marks a chunk whose stored hash no longer matches
	// its content.
	ErrIntegrity = errors.New("data integrity check failed")

	// ErrUpstream wraps blob-gateway or database failures.
	ErrUpstream = errors.New("upstream error")
)
