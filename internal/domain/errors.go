package domain

import (
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned when a key is not present in the index
var ErrEntryNotFound = errors.New("entry not found")

// ErrBatchNotFound is returned when no history exists for a batch ID
var ErrBatchNotFound = errors.New("batch not found")

// NetworkError is a failed request through the pooled client
type NetworkError struct {
	Transient  bool
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s network error: HTTP %d: %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s network error: %v", kind, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FilesystemError covers permission, out-of-space and rename failures
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// SerializationError means the index file could not be used as-is:
// either its bytes are corrupt or it was written by another format version.
type SerializationError struct {
	Path            string
	VersionMismatch bool
	Found           uint32
	Err             error
}

func (e *SerializationError) Error() string {
	if e.VersionMismatch {
		return fmt.Sprintf("index %s: format version %d, want %d", e.Path, e.Found, CurrentFormatVersion)
	}
	return fmt.Sprintf("index %s: corrupt: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// LegacyParseError is a per-item failure while reading the legacy layout
type LegacyParseError struct {
	Path string
	Err  error
}

func (e *LegacyParseError) Error() string {
	return fmt.Sprintf("legacy descriptor %s: %v", e.Path, e.Err)
}

func (e *LegacyParseError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Transient
	}
	return false
}

// ClassifyError maps an error to the ErrorKind recorded in a result
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var netErr *NetworkError
	var fsErr *FilesystemError
	switch {
	case errors.As(err, &netErr):
		if netErr.Transient {
			return ErrorKindTransient
		}
		return ErrorKindPermanent
	case errors.As(err, &fsErr):
		return ErrorKindFilesystem
	default:
		return ErrorKindPermanent
	}
}
