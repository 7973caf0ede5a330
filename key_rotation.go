package transformfs

import (
	"errors"
	"fmt"
	"io"
)

// RotationOptions contains options for re-encoding stored files
type RotationOptions struct {
	// From is the pipeline the files are currently stored with. A file is
	// found under its logical path plus From's extension.
	From *Pipeline

	// Parallel bounds how many files RotateAll processes at once
	Parallel ParallelConfig

	// DryRun decodes every file without writing anything back
	DryRun bool
}

func (o *RotationOptions) validate() error {
	if o.From == nil {
		return NewConfigurationError("from", nil, "source pipeline is required")
	}
	return o.Parallel.Validate()
}

// Rotate re-encodes one file: it is read and decoded with opts.From, then
// written back through the proxy's own pipeline. Rotating the key of a
// ChunkedCipher and migrating between pipelines are both rotations. When the
// pipelines use different extensions the old artifact is removed once the
// new one has been written.
func (p *Proxy) Rotate(name string, opts RotationOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	return p.rotate(name, opts)
}

func (p *Proxy) rotate(name string, opts RotationOptions) error {
	old := name + opts.From.Extension()
	encoded, err := p.backend.Read(old)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", old, err)
	}

	plain, err := opts.From.Decode(name, encoded)
	if err != nil {
		p.warnCorrupt(name, err)
		return err
	}
	defer wipe(plain)

	if opts.DryRun {
		p.log.Info().Str("op", "rotate").Str("path", name).Int("size", len(plain)).Bool("dry_run", true).Send()
		return nil
	}

	if err := p.Write(name, plain); err != nil {
		return fmt.Errorf("failed to write re-encoded %s: %w", name, err)
	}
	if old != p.physical(name) {
		if p.work != nil {
			if err := p.work.remove(old); err != nil {
				return err
			}
		}
		if err := p.backend.Delete(old); err != nil {
			return fmt.Errorf("failed to remove %s: %w", old, err)
		}
	}

	p.log.Debug().Str("op", "rotate").Str("path", name).Str("from", old).Str("physical", p.physical(name)).Send()
	return nil
}

// RotateAll rotates every file below root stored with opts.From and returns
// how many were rotated. A failure on one file does not stop the others;
// all failures are joined into the returned error.
func (p *Proxy) RotateAll(root string, opts RotationOptions) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	names, err := p.logicalFiles(root, opts.From.Extension())
	if err != nil {
		return 0, fmt.Errorf("listing %s failed: %w", root, err)
	}

	errs := forEach(names, opts.Parallel, func(name string) error {
		return p.rotate(name, opts)
	})

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", names[i], err))
		}
	}
	rotated := len(names) - len(failed)
	if len(failed) > 0 {
		return rotated, fmt.Errorf("rotation completed with %d errors (rotated %d files): %w", len(failed), rotated, errors.Join(failed...))
	}

	p.log.Info().Str("op", "rotate_all").Str("root", root).Int("files", rotated).Bool("dry_run", opts.DryRun).Send()
	return rotated, nil
}

// Verify reads and decodes a whole file, discarding the plaintext. Every
// integrity check of the pipeline runs, so a nil result means the stored
// file is intact.
func (p *Proxy) Verify(name string) error {
	rc, err := p.ReadStream(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		p.warnCorrupt(name, err)
		return err
	}
	return nil
}

// VerifyAll verifies every file below root and returns the logical paths
// that failed, in lexical order.
func (p *Proxy) VerifyAll(root string, parallel ParallelConfig) ([]string, error) {
	if err := parallel.Validate(); err != nil {
		return nil, err
	}
	names, err := p.logicalFiles(root, p.pipeline.Extension())
	if err != nil {
		return nil, fmt.Errorf("listing %s failed: %w", root, err)
	}

	errs := forEach(names, parallel, p.Verify)

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, names[i])
		}
	}
	if len(failed) > 0 {
		return failed, fmt.Errorf("%d files failed verification", len(failed))
	}
	return nil, nil
}
