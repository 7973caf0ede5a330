package transformfs

import (
	"errors"
	"testing"
)

func TestConfigurationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ConfigurationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &ConfigurationError{
				Field:   "key",
				Value:   16,
				Message: "must be 32 bytes",
			},
			wantMsg: "configuration error: key: must be 32 bytes",
		},
		{
			name: "without field",
			err: &ConfigurationError{
				Message: "no transforms configured",
			},
			wantMsg: "configuration error: no transforms configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigurationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}

	wrapped := &ConfigurationError{Field: "key", Message: "bad", Err: ErrInvalidKey}
	if !errors.Is(wrapped, ErrInvalidKey) {
		t.Error("ConfigurationError should unwrap to ErrInvalidKey")
	}
}

func TestCorruptionError(t *testing.T) {
	tests := []struct {
		name    string
		err     *CorruptionError
		wantMsg string
	}{
		{
			name: "with chunk",
			err: &CorruptionError{
				Path:     "/test/file.txt",
				ChunkIdx: 3,
				Message:  "unexpected tag",
			},
			wantMsg: "corruption error: /test/file.txt (chunk 3): unexpected tag",
		},
		{
			name: "without chunk",
			err: &CorruptionError{
				Path:    "/test/file.txt",
				Message: "CRC32 checksum failed",
			},
			wantMsg: "corruption error: /test/file.txt: CRC32 checksum failed",
		},
		{
			name: "generic",
			err: &CorruptionError{
				Message: "data tampering detected",
			},
			wantMsg: "corruption error: data tampering detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("CorruptionError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestUnsupportedOperationError(t *testing.T) {
	err := &UnsupportedOperationError{Operation: "move", Path: "a.txt", Message: "working copy in use"}
	want := "move operation is not supported: a.txt: working copy in use"
	if got := err.Error(); got != want {
		t.Errorf("UnsupportedOperationError.Error() = %q, want %q", got, want)
	}

	err = &UnsupportedOperationError{Operation: "copy", Message: "working copy in use"}
	want = "copy operation is not supported: working copy in use"
	if got := err.Error(); got != want {
		t.Errorf("UnsupportedOperationError.Error() = %q, want %q", got, want)
	}
}

func TestErrorCheckers(t *testing.T) {
	cfg := NewConfigurationError("key", nil, "test")
	corrupt := NewCorruptionError("/path", ErrChecksum, "test")
	unsupported := NewUnsupportedOperationError("copy", "/path", "test")
	genericErr := errors.New("generic error")

	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"IsConfigurationError with ConfigurationError", cfg, IsConfigurationError, true},
		{"IsConfigurationError with other error", genericErr, IsConfigurationError, false},
		{"IsCorruptionError with CorruptionError", corrupt, IsCorruptionError, true},
		{"IsCorruptionError with other error", genericErr, IsCorruptionError, false},
		{"IsUnsupportedOperationError with UnsupportedOperationError", unsupported, IsUnsupportedOperationError, true},
		{"IsUnsupportedOperationError with other error", genericErr, IsUnsupportedOperationError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("error checker = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewCorruptionErrorUnwraps(t *testing.T) {
	err := NewCorruptionError("/path", ErrChecksum, "CRC32 checksum failed")
	if !errors.Is(err, ErrChecksum) {
		t.Error("NewCorruptionError should wrap the sentinel")
	}
	ce := err.(*CorruptionError)
	if ce.Path != "/path" || ce.Message != "CRC32 checksum failed" {
		t.Errorf("NewCorruptionError fields incorrect: %+v", ce)
	}
}
