// Package errors provides error handling for relcut.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrTagExists) {
//	    // handle duplicate tag
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors for the release pipeline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrMissingCredential indicates a required API or push token is absent.
	// This is a configuration error: fatal, raised before any mutation.
	ErrMissingCredential = New("missing credential")

	// ErrMalformedVersion indicates the version source did not contain a
	// parseable major.minor.patch version. Fatal, raised before any mutation.
	ErrMalformedVersion = New("malformed version")

	// ErrTagExists indicates the release tag already exists. Duplicate tag
	// creation must fail loudly, never silently overwrite.
	ErrTagExists = New("tag already exists")

	// ErrRemoteOperation indicates a git push, label call, or release
	// creation failed against the remote.
	ErrRemoteOperation = New("remote operation failed")

	// ErrRunSkipped indicates the trigger gate found the skip marker.
	// Not a failure: the run is a deliberate no-op.
	ErrRunSkipped = New("run skipped")

	// ErrRunInProgress indicates another run holds the per-branch lock.
	ErrRunInProgress = New("run already in progress for branch")
)

// IsConfigurationError checks if an error is or wraps ErrMissingCredential.
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrMissingCredential)
}

// IsMalformedVersion checks if an error is or wraps ErrMalformedVersion.
func IsMalformedVersion(err error) bool {
	return err != nil && Is(err, ErrMalformedVersion)
}

// IsSkip checks if an error is or wraps ErrRunSkipped.
func IsSkip(err error) bool {
	return err != nil && Is(err, ErrRunSkipped)
}

// NewMalformedVersion creates a malformed-version error with a formatted message.
func NewMalformedVersion(format string, args ...interface{}) error {
	return Wrap(ErrMalformedVersion, Newf(format, args...).Error())
}

// WrapRemote wraps an error as a remote-operation failure with context.
func WrapRemote(err error, context string) error {
	return Wrap(Wrap(ErrRemoteOperation, err.Error()), context)
}
