package transformfs

import (
	"io"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// workCopy keeps the encoded form of every file written through a proxy in
// a local directory. Reads are served from it when the file is present.
type workCopy struct {
	fs afero.Fs
}

func newWorkCopy(dir string) (*workCopy, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &ConfigurationError{Field: "workdir", Value: dir, Message: "cannot create working directory", Err: err}
	}
	return newWorkCopyFs(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// newWorkCopyFs checks that fs is writable by creating and removing a marker
// file.
func newWorkCopyFs(fs afero.Fs) (*workCopy, error) {
	marker := "/.writable-" + uuid.NewString()
	if err := afero.WriteFile(fs, marker, nil, 0o600); err != nil {
		return nil, &ConfigurationError{Field: "workdir", Message: "working directory is not writable", Err: err}
	}
	if err := fs.Remove(marker); err != nil {
		return nil, &ConfigurationError{Field: "workdir", Message: "working directory is not writable", Err: err}
	}
	return &workCopy{fs: fs}, nil
}

// put stores r under name. The data goes to a temporary file first so a
// failed write never replaces an existing copy.
func (w *workCopy) put(name string, r io.Reader) error {
	if err := w.fs.MkdirAll(path.Dir(name), 0o700); err != nil {
		return err
	}
	tmp := name + "." + uuid.NewString() + ".tmp"
	f, err := w.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		w.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		w.fs.Remove(tmp)
		return err
	}
	return w.fs.Rename(tmp, name)
}

func (w *workCopy) has(name string) bool {
	ok, err := afero.Exists(w.fs, name)
	return err == nil && ok
}

func (w *workCopy) open(name string) (afero.File, error) {
	return w.fs.Open(name)
}

func (w *workCopy) read(name string) ([]byte, error) {
	return afero.ReadFile(w.fs, name)
}

func (w *workCopy) remove(name string) error {
	err := w.fs.Remove(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (w *workCopy) removeAll(dir string) error {
	return w.fs.RemoveAll(dir)
}
