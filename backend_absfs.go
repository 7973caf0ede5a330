package transformfs

import (
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/absfs/absfs"
)

// AbsFSBackend adapts an absfs.FileSystem to the Backend interface. Paths
// are slash separated and missing parent directories are created on write.
type AbsFSBackend struct {
	fs absfs.FileSystem
}

// NewAbsFSBackend wraps fs
func NewAbsFSBackend(fs absfs.FileSystem) (*AbsFSBackend, error) {
	if fs == nil {
		return nil, ErrNilBackend
	}
	return &AbsFSBackend{fs: fs}, nil
}

// Exists reports whether a file or directory exists at name
func (b *AbsFSBackend) Exists(name string) (bool, error) {
	_, err := b.fs.Stat(name)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Write creates or truncates name and writes contents to it
func (b *AbsFSBackend) Write(name string, contents []byte) error {
	f, err := b.create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteStream copies r into name, creating parent directories as needed
func (b *AbsFSBackend) WriteStream(name string, r io.Reader) error {
	f, err := b.create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *AbsFSBackend) create(name string) (absfs.File, error) {
	if err := b.mkdirParent(name); err != nil {
		return nil, err
	}
	return b.fs.Create(name)
}

func (b *AbsFSBackend) mkdirParent(name string) error {
	dir := path.Dir(name)
	if dir == "/" || dir == "." {
		return nil
	}
	return b.fs.MkdirAll(dir, 0755)
}

// Read returns the whole content of name
func (b *AbsFSBackend) Read(name string) ([]byte, error) {
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ReadStream opens name for reading
func (b *AbsFSBackend) ReadStream(name string) (io.ReadCloser, error) {
	return b.fs.Open(name)
}

// Delete removes the file name
func (b *AbsFSBackend) Delete(name string) error {
	return b.fs.Remove(name)
}

// DeleteDirectory removes name and everything below it
func (b *AbsFSBackend) DeleteDirectory(name string) error {
	return b.fs.RemoveAll(name)
}

// CreateDirectory creates name along with any missing parents
func (b *AbsFSBackend) CreateDirectory(name string) error {
	return b.fs.MkdirAll(name, 0755)
}

// Move renames source to destination
func (b *AbsFSBackend) Move(source, destination string) error {
	if err := b.mkdirParent(destination); err != nil {
		return err
	}
	return b.fs.Rename(source, destination)
}

// Copy duplicates source at destination
func (b *AbsFSBackend) Copy(source, destination string) error {
	src, err := b.fs.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()
	return b.WriteStream(destination, src)
}

// List returns the entries below dir sorted by path, descending into
// subdirectories when recursive is set.
func (b *AbsFSBackend) List(dir string, recursive bool) ([]Entry, error) {
	var entries []Entry
	if err := b.list(dir, recursive, &entries); err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Path, b.Path)
	})
	return entries, nil
}

func (b *AbsFSBackend) list(dir string, recursive bool, entries *[]Entry) error {
	f, err := b.fs.Open(dir)
	if err != nil {
		return err
	}
	infos, err := f.Readdir(-1)
	f.Close()
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		p := path.Join(dir, info.Name())
		*entries = append(*entries, Entry{
			Path:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
		if info.IsDir() && recursive {
			if err := b.list(p, recursive, entries); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ Backend = (*AbsFSBackend)(nil)
