package transformfs

import (
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// AferoBackend adapts an afero.Fs to the Backend interface.
type AferoBackend struct {
	fs afero.Fs
}

// NewAferoBackend wraps fs
func NewAferoBackend(fs afero.Fs) (*AferoBackend, error) {
	if fs == nil {
		return nil, ErrNilBackend
	}
	return &AferoBackend{fs: fs}, nil
}

// NewLocalBackend returns a backend rooted at dir on the local disk.
func NewLocalBackend(dir string) (*AferoBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return NewAferoBackend(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// Exists reports whether name exists
func (b *AferoBackend) Exists(name string) (bool, error) {
	return afero.Exists(b.fs, name)
}

// Write creates or truncates name and writes contents to it
func (b *AferoBackend) Write(name string, contents []byte) error {
	if err := b.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return err
	}
	return afero.WriteFile(b.fs, name, contents, 0644)
}

// WriteStream copies r into name, creating parent directories as needed
func (b *AferoBackend) WriteStream(name string, r io.Reader) error {
	if err := b.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return err
	}
	return afero.WriteReader(b.fs, name, r)
}

// Read returns the whole content of name
func (b *AferoBackend) Read(name string) ([]byte, error) {
	return afero.ReadFile(b.fs, name)
}

// ReadStream opens name for reading
func (b *AferoBackend) ReadStream(name string) (io.ReadCloser, error) {
	return b.fs.Open(name)
}

// Delete removes the file name
func (b *AferoBackend) Delete(name string) error {
	return b.fs.Remove(name)
}

// DeleteDirectory removes name and everything below it
func (b *AferoBackend) DeleteDirectory(name string) error {
	return b.fs.RemoveAll(name)
}

// CreateDirectory creates name along with any missing parents
func (b *AferoBackend) CreateDirectory(name string) error {
	return b.fs.MkdirAll(name, 0755)
}

// Move renames source to destination
func (b *AferoBackend) Move(source, destination string) error {
	if err := b.fs.MkdirAll(path.Dir(destination), 0755); err != nil {
		return err
	}
	return b.fs.Rename(source, destination)
}

// Copy duplicates source at destination
func (b *AferoBackend) Copy(source, destination string) error {
	src, err := b.fs.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()
	return b.WriteStream(destination, src)
}

// List returns the entries below dir in lexical order.
func (b *AferoBackend) List(dir string, recursive bool) ([]Entry, error) {
	var entries []Entry
	if !recursive {
		infos, err := afero.ReadDir(b.fs, dir)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			entries = append(entries, entryFromInfo(path.Join(dir, info.Name()), info))
		}
		return entries, nil
	}

	root := filepath.Clean(dir)
	err := afero.Walk(b.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filepath.Clean(p) == root {
			return nil
		}
		entries = append(entries, entryFromInfo(filepath.ToSlash(p), info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func entryFromInfo(p string, info os.FileInfo) Entry {
	return Entry{
		Path:    p,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}

var _ Backend = (*AferoBackend)(nil)
