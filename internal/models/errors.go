package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrInvalidReference ErrorType = iota
	ErrTransport
	ErrRateLimited
	ErrResolutionExhausted
	ErrNoManifestFound
	ErrDownloadFailed
	ErrExtractFailed
	ErrFilesystemConflict
	ErrConfigurationMissing
	ErrRegistry
	ErrNotFound
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInvalidReference:
		return "InvalidReference"
	case ErrTransport:
		return "TransportError"
	case ErrRateLimited:
		return "RateLimited"
	case ErrResolutionExhausted:
		return "ResolutionExhausted"
	case ErrNoManifestFound:
		return "NoManifestFound"
	case ErrDownloadFailed:
		return "DownloadFailed"
	case ErrExtractFailed:
		return "ExtractFailed"
	case ErrFilesystemConflict:
		return "FilesystemConflict"
	case ErrConfigurationMissing:
		return "ConfigurationMissing"
	case ErrRegistry:
		return "Registry"
	case ErrNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// AddonError represents an error raised while resolving, installing or
// scanning an addon
type AddonError struct {
	Type    ErrorType
	Package string
	Err     error
}

// NewError creates an AddonError of the given type
func NewError(t ErrorType, pkg string, err error) *AddonError {
	return &AddonError{Type: t, Package: pkg, Err: err}
}

// Error implements the error interface
func (e *AddonError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *AddonError) Unwrap() error {
	return e.Err
}

// IsType reports whether err carries an AddonError of type t anywhere in its chain.
func IsType(err error, t ErrorType) bool {
	var ae *AddonError
	for err != nil {
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Type == t {
			return true
		}
		err = ae.Err
	}
	return false
}
