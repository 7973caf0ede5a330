package transformfs

import (
	"bytes"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Proxy implements Backend on top of another Backend, encoding everything
// written through it and decoding everything read. Files are stored under
// their logical path plus the pipeline extension; listings hide anything
// that does not carry that extension.
type Proxy struct {
	backend  Backend
	pipeline *Pipeline
	work     *workCopy
	log      zerolog.Logger
}

// New creates a proxy in front of backend
func New(backend Backend, config *Config) (*Proxy, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := NewPipeline(config.Transforms...)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		backend:  backend,
		pipeline: pipeline,
		log:      config.logger().With().Str("ext", pipeline.Extension()).Logger(),
	}
	if config.WorkDir != "" {
		work, err := newWorkCopy(config.WorkDir)
		if err != nil {
			return nil, err
		}
		p.work = work
	}
	return p, nil
}

// Pipeline returns the pipeline the proxy encodes with.
func (p *Proxy) Pipeline() *Pipeline {
	return p.pipeline
}

// physical maps a logical path to the path stored in the backend.
func (p *Proxy) physical(path string) string {
	return path + p.pipeline.Extension()
}

// Exists reports whether an encoded file is stored for path
func (p *Proxy) Exists(path string) (bool, error) {
	if err := ValidateFilePath(path); err != nil {
		return false, err
	}
	return p.backend.Exists(p.physical(path))
}

// Write encodes contents and stores them under the physical path
func (p *Proxy) Write(path string, contents []byte) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	physical := p.physical(path)
	p.log.Debug().Str("op", "write").Str("path", path).Str("physical", physical).Int("size", len(contents)).Msg("encode")

	encoded, err := p.pipeline.Encode(path, contents)
	if err != nil {
		return err
	}
	if p.work != nil {
		if err := p.work.put(physical, bytes.NewReader(encoded)); err != nil {
			return err
		}
	}
	return p.backend.Write(physical, encoded)
}

// WriteStream encodes r chunk by chunk while uploading it
func (p *Proxy) WriteStream(path string, r io.Reader) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	physical := p.physical(path)
	stream := uuid.NewString()
	p.log.Debug().Str("op", "write_stream").Str("path", path).Str("physical", physical).Str("stream", stream).Msg("encode")

	encoded, err := p.pipeline.EncodeReader(path, io.NopCloser(r))
	if err != nil {
		return err
	}
	if p.work == nil {
		return p.backend.WriteStream(physical, encoded)
	}

	if err := p.work.put(physical, encoded); err != nil {
		return err
	}
	staged, err := p.work.open(physical)
	if err != nil {
		return err
	}
	defer staged.Close()
	return p.backend.WriteStream(physical, staged)
}

// Read fetches and decodes a whole file
func (p *Proxy) Read(path string) ([]byte, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}
	physical := p.physical(path)
	p.log.Debug().Str("op", "read").Str("path", path).Str("physical", physical).Msg("decode")

	var encoded []byte
	var err error
	if p.work != nil && p.work.has(physical) {
		encoded, err = p.work.read(physical)
	} else {
		encoded, err = p.backend.Read(physical)
	}
	if err != nil {
		return nil, err
	}

	plain, err := p.pipeline.Decode(path, encoded)
	if err != nil {
		p.warnCorrupt(path, err)
		return nil, err
	}
	return plain, nil
}

// ReadStream opens a file for reading with transparent decoding. Integrity
// errors surface from Read calls on the returned stream.
func (p *Proxy) ReadStream(path string) (io.ReadCloser, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}
	physical := p.physical(path)
	stream := uuid.NewString()
	p.log.Debug().Str("op", "read_stream").Str("path", path).Str("physical", physical).Str("stream", stream).Msg("decode")

	var src io.ReadCloser
	var err error
	if p.work != nil && p.work.has(physical) {
		src, err = p.work.open(physical)
	} else {
		src, err = p.backend.ReadStream(physical)
	}
	if err != nil {
		return nil, err
	}

	decoded, err := p.pipeline.DecodeReader(path, src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return decoded, nil
}

// Delete removes a stored file and its working copy
func (p *Proxy) Delete(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	physical := p.physical(path)
	p.log.Debug().Str("op", "delete").Str("path", path).Str("physical", physical).Send()
	if p.work != nil {
		if err := p.work.remove(physical); err != nil {
			return err
		}
	}
	return p.backend.Delete(physical)
}

// DeleteDirectory removes a directory and everything below it
func (p *Proxy) DeleteDirectory(path string) error {
	p.log.Debug().Str("op", "delete_directory").Str("path", path).Send()
	if p.work != nil {
		if err := p.work.removeAll(path); err != nil {
			return err
		}
	}
	return p.backend.DeleteDirectory(path)
}

// CreateDirectory creates a directory in the backend
func (p *Proxy) CreateDirectory(path string) error {
	p.log.Debug().Str("op", "create_directory").Str("path", path).Send()
	return p.backend.CreateDirectory(path)
}

// Move renames the stored artifact. With a working copy configured the
// local file and the backend cannot be updated together, so Move fails
// with an UnsupportedOperationError.
func (p *Proxy) Move(source, destination string) error {
	if err := validatePaths(source, destination); err != nil {
		return err
	}
	if p.work != nil {
		return NewUnsupportedOperationError("move", source, "working copy cannot be updated atomically with the backend")
	}
	p.log.Debug().Str("op", "move").Str("path", source).Str("destination", destination).Send()
	return p.backend.Move(p.physical(source), p.physical(destination))
}

// Copy duplicates the stored artifact. Like Move it is unsupported with a
// working copy.
func (p *Proxy) Copy(source, destination string) error {
	if err := validatePaths(source, destination); err != nil {
		return err
	}
	if p.work != nil {
		return NewUnsupportedOperationError("copy", source, "working copy cannot be updated atomically with the backend")
	}
	p.log.Debug().Str("op", "copy").Str("path", source).Str("destination", destination).Send()
	return p.backend.Copy(p.physical(source), p.physical(destination))
}

// List returns the backend listing with the pipeline extension stripped.
// Files without the full extension belong to some other namespace sharing
// the backend and are left out. Directories pass through unchanged. Sizes
// are those of the stored, encoded files.
func (p *Proxy) List(path string, recursive bool) ([]Entry, error) {
	entries, err := p.backend.List(path, recursive)
	if err != nil {
		return nil, err
	}
	return stripExtension(entries, p.pipeline.Extension()), nil
}

// logicalFiles returns the logical paths of all files below root stored
// with extension ext, sorted.
func (p *Proxy) logicalFiles(root, ext string) ([]string, error) {
	entries, err := p.backend.List(root, true)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range stripExtension(entries, ext) {
		if !e.IsDir {
			names = append(names, e.Path)
		}
	}
	slices.Sort(names)
	return names, nil
}

func stripExtension(entries []Entry, ext string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			out = append(out, e)
			continue
		}
		logical, ok := strings.CutSuffix(e.Path, ext)
		if !ok || logical == "" || strings.HasSuffix(logical, "/") {
			continue
		}
		e.Path = logical
		out = append(out, e)
	}
	return out
}

func validatePaths(source, destination string) error {
	if err := ValidateFilePath(source); err != nil {
		return err
	}
	return ValidateFilePath(destination)
}

func (p *Proxy) warnCorrupt(path string, err error) {
	if IsCorruptionError(err) {
		p.log.Warn().Err(err).Str("path", path).Msg("stored file failed verification")
	}
}

var _ Backend = (*Proxy)(nil)
