package transformfs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/absfs/memfs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
)

type backendFactory struct {
	name  string
	build func(t *testing.T) Backend
}

var backendFactories = []backendFactory{
	{"absfs memfs", func(t *testing.T) Backend {
		fs, err := memfs.NewFS()
		if err != nil {
			t.Fatalf("Failed to create memfs: %v", err)
		}
		b, err := NewAbsFSBackend(fs)
		if err != nil {
			t.Fatalf("NewAbsFSBackend failed: %v", err)
		}
		return b
	}},
	{"afero memmap", func(t *testing.T) Backend {
		b, err := NewAferoBackend(afero.NewMemMapFs())
		if err != nil {
			t.Fatalf("NewAferoBackend failed: %v", err)
		}
		return b
	}},
	{"local", func(t *testing.T) Backend {
		b, err := NewLocalBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewLocalBackend failed: %v", err)
		}
		return b
	}},
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

var sortStrings = cmpopts.SortSlices(func(a, b string) bool { return a < b })

func TestBackends(t *testing.T) {
	for _, f := range backendFactories {
		t.Run(f.name, func(t *testing.T) {
			b := f.build(t)

			if err := b.Write("/a.txt", []byte("alpha")); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := b.Write("/dir/b.txt", []byte("bravo")); err != nil {
				t.Fatalf("Write into new directory failed: %v", err)
			}
			if err := b.WriteStream("/dir/sub/c.txt", strings.NewReader("charlie")); err != nil {
				t.Fatalf("WriteStream failed: %v", err)
			}

			got, err := b.Read("/a.txt")
			if err != nil || string(got) != "alpha" {
				t.Errorf("Read = %q, %v; want %q", got, err, "alpha")
			}
			rc, err := b.ReadStream("/dir/sub/c.txt")
			if err != nil {
				t.Fatalf("ReadStream failed: %v", err)
			}
			got, _ = io.ReadAll(rc)
			rc.Close()
			if string(got) != "charlie" {
				t.Errorf("ReadStream = %q, want %q", got, "charlie")
			}

			if err := b.Write("/a.txt", []byte("a")); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}
			if got, _ := b.Read("/a.txt"); string(got) != "a" {
				t.Errorf("overwritten file = %q, want %q", got, "a")
			}

			exists := map[string]bool{"/a.txt": true, "/dir": true, "/missing.txt": false}
			for name, want := range exists {
				ok, err := b.Exists(name)
				if err != nil || ok != want {
					t.Errorf("Exists(%q) = %v, %v; want %v", name, ok, err, want)
				}
			}

			entries, err := b.List("/", true)
			if err != nil {
				t.Fatalf("recursive List failed: %v", err)
			}
			want := []string{"/a.txt", "/dir", "/dir/b.txt", "/dir/sub", "/dir/sub/c.txt"}
			if diff := cmp.Diff(want, paths(entries), sortStrings); diff != "" {
				t.Errorf("recursive List mismatch (-want +got):\n%s", diff)
			}
			for _, e := range entries {
				if e.Path == "/dir/b.txt" && (e.IsDir || e.Size != 5) {
					t.Errorf("entry %+v, want 5-byte file", e)
				}
				if e.Path == "/dir/sub" && !e.IsDir {
					t.Errorf("entry %+v, want directory", e)
				}
			}

			entries, err = b.List("/", false)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if diff := cmp.Diff([]string{"/a.txt", "/dir"}, paths(entries), sortStrings); diff != "" {
				t.Errorf("List mismatch (-want +got):\n%s", diff)
			}

			if err := b.Copy("/dir/b.txt", "/copy/b.txt"); err != nil {
				t.Fatalf("Copy failed: %v", err)
			}
			if err := b.Move("/a.txt", "/moved/a.txt"); err != nil {
				t.Fatalf("Move failed: %v", err)
			}
			if ok, _ := b.Exists("/a.txt"); ok {
				t.Error("Move left the source behind")
			}
			for name, want := range map[string]string{"/copy/b.txt": "bravo", "/dir/b.txt": "bravo", "/moved/a.txt": "a"} {
				if got, err := b.Read(name); err != nil || !bytes.Equal(got, []byte(want)) {
					t.Errorf("Read(%q) = %q, %v; want %q", name, got, err, want)
				}
			}

			if err := b.Delete("/copy/b.txt"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok, _ := b.Exists("/copy/b.txt"); ok {
				t.Error("Delete did not remove the file")
			}

			if err := b.CreateDirectory("/empty/nested"); err != nil {
				t.Fatalf("CreateDirectory failed: %v", err)
			}
			if ok, _ := b.Exists("/empty/nested"); !ok {
				t.Error("CreateDirectory did not create the directory")
			}

			if err := b.DeleteDirectory("/dir"); err != nil {
				t.Fatalf("DeleteDirectory failed: %v", err)
			}
			for _, name := range []string{"/dir", "/dir/b.txt", "/dir/sub/c.txt"} {
				if ok, _ := b.Exists(name); ok {
					t.Errorf("%q survived DeleteDirectory", name)
				}
			}
		})
	}
}

func TestBackendReadMissing(t *testing.T) {
	for _, f := range backendFactories {
		t.Run(f.name, func(t *testing.T) {
			if _, err := f.build(t).Read("/nope.txt"); err == nil {
				t.Error("expected error reading a missing file")
			}
		})
	}
}

func TestNewBackendNil(t *testing.T) {
	if _, err := NewAbsFSBackend(nil); err != ErrNilBackend {
		t.Errorf("NewAbsFSBackend(nil) = %v, want ErrNilBackend", err)
	}
	if _, err := NewAferoBackend(nil); err != ErrNilBackend {
		t.Errorf("NewAferoBackend(nil) = %v, want ErrNilBackend", err)
	}
}
