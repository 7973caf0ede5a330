package transformfs

import (
	"fmt"
	"strings"
)

// Input validation helpers

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ConfigurationError{
			Field:   "key",
			Message: "key cannot be nil",
			Err:     ErrInvalidKey,
		}
	}

	if len(key) != expectedSize {
		return &ConfigurationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
			Err:     ErrInvalidKey,
		}
	}

	return nil
}

// ValidateName checks that a stream name can be embedded in a container
// header as a NUL-terminated or length-prefixed field.
func ValidateName(name string) error {
	if strings.IndexByte(name, 0) >= 0 {
		return &ConfigurationError{
			Field:   "name",
			Value:   name,
			Message: "name cannot contain a NUL byte",
			Err:     ErrInvalidName,
		}
	}
	if len(name) > 0xFFFF {
		return &ConfigurationError{
			Field:   "name",
			Value:   len(name),
			Message: "name longer than 65535 bytes",
			Err:     ErrInvalidName,
		}
	}
	return nil
}

// ValidateFilePath checks if a file path is valid (not empty)
func ValidateFilePath(path string) error {
	if path == "" {
		return &ConfigurationError{
			Field:   "path",
			Message: "file path cannot be empty",
		}
	}
	return nil
}
