package transformfs

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ConfigurationError reports a setting or parameter that cannot be used: a key
// of the wrong length, a filename containing a forbidden byte, a working
// directory that is not writable. It is returned at construction or at the
// start of a stream, before anything has been written downstream.
type ConfigurationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CorruptionError represents a data corruption or integrity check failure
// found while decoding: a bad container header, a CRC mismatch, a failed or
// missing authentication tag, or a stream that ends early.
type CorruptionError struct {
	Path     string // Logical path of the stream
	ChunkIdx uint32 // Chunk index, if applicable
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" && e.ChunkIdx > 0 {
		return fmt.Sprintf("corruption error: %s (chunk %d): %s", e.Path, e.ChunkIdx, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError is returned for an operation the active
// configuration cannot perform atomically.
type UnsupportedOperationError struct {
	Operation string // "move", "copy", ...
	Path      string // Logical path, if applicable
	Message   string // Human-readable error message
}

func (e *UnsupportedOperationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s operation is not supported: %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("%s operation is not supported: %s", e.Operation, e.Message)
}

// Common sentinel errors
var (
	ErrInvalidKey     = errors.New("invalid encryption key")
	ErrInvalidName    = errors.New("invalid stream name")
	ErrInvalidHeader  = errors.New("invalid container header")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrAuthFailed     = errors.New("authentication failed - data may be corrupted or tampered")
	ErrTruncated      = errors.New("stream truncated")
	ErrFilterClosed   = errors.New("filter already finished")
	ErrNilConfig      = errors.New("config cannot be nil")
	ErrNilBackend     = errors.New("backend cannot be nil")
	ErrNilKeyProvider = errors.New("key provider cannot be nil")
)

// Helper functions for creating structured errors

// NewConfigurationError creates a new configuration error
func NewConfigurationError(field string, value any, message string) error {
	return &ConfigurationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewCorruptionError creates a new corruption error wrapping a sentinel
func NewCorruptionError(path string, err error, message string) error {
	return &CorruptionError{
		Path:    path,
		Message: message,
		Err:     err,
	}
}

// NewUnsupportedOperationError creates a new unsupported operation error
func NewUnsupportedOperationError(operation, path, message string) error {
	return &UnsupportedOperationError{
		Operation: operation,
		Path:      path,
		Message:   message,
	}
}

// Error checking helpers

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsUnsupportedOperationError checks if an error is an unsupported operation error
func IsUnsupportedOperationError(err error) bool {
	var ue *UnsupportedOperationError
	return errors.As(err, &ue)
}
