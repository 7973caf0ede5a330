package transformfs

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ChunkSize is the unit, in bytes, in which filters consume their input.
const ChunkSize = 8192

// Filter is a stateful, single-direction streaming codec. A Filter is owned
// by exactly one stream and is never shared.
type Filter interface {
	// Feed buffers p and returns whatever complete output is available.
	Feed(p []byte) ([]byte, error)

	// Finish flushes all buffered data plus any footer or trailer. The filter
	// is terminal afterwards and rejects further calls with ErrFilterClosed.
	Finish() ([]byte, error)
}

// Transform is a configured, stateless codec that hands out a fresh Filter
// per stream.
type Transform interface {
	// Extension is the suffix appended to the logical path of encoded files
	// (".gz", ".zip", ".encrypted").
	Extension() string

	// NewEncoder returns a filter that encodes the stream called name.
	NewEncoder(name string) (Filter, error)

	// NewDecoder returns a filter that decodes the stream called name.
	NewDecoder(name string) (Filter, error)
}

// Entry describes one item of a directory listing.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Backend is a path-addressed storage backend.
type Backend interface {
	Exists(path string) (bool, error)
	Write(path string, contents []byte) error
	WriteStream(path string, r io.Reader) error
	Read(path string) ([]byte, error)
	ReadStream(path string) (io.ReadCloser, error)
	Delete(path string) error
	DeleteDirectory(path string) error
	CreateDirectory(path string) error
	Move(source, destination string) error
	Copy(source, destination string) error
	List(path string, recursive bool) ([]Entry, error)
}

// Config contains configuration for the transforming proxy
type Config struct {
	// Transforms are applied in order on write and in reverse on read
	Transforms []Transform

	// WorkDir enables the local working copy: encoded files are staged in
	// this directory before upload and served from it on read.
	WorkDir string

	// Logger receives debug and warning events; nil disables logging
	Logger *zerolog.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if len(c.Transforms) == 0 {
		return NewConfigurationError("transforms", nil, "at least one transform is required")
	}
	for i, t := range c.Transforms {
		if t == nil {
			return NewConfigurationError("transforms", i, "transform cannot be nil")
		}
		if t.Extension() == "" {
			return NewConfigurationError("transforms", i, "transform extension cannot be empty")
		}
	}
	return nil
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}
