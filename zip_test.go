package transformfs

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"testing"
	"time"
)

func zipEncode(t *testing.T, c *ZipCodec, name string, data []byte, sizes ...int) []byte {
	t.Helper()
	enc, err := c.NewEncoder(name)
	if err != nil {
		t.Fatalf("NewEncoder(%q) failed: %v", name, err)
	}
	out, err := feedSplit(t, enc, data, sizes...)
	if err != nil {
		t.Fatalf("zip encode failed: %v", err)
	}
	return out
}

func zipDecode(t *testing.T, name string, data []byte, sizes ...int) ([]byte, error) {
	t.Helper()
	dec, err := NewZipCodec().NewDecoder(name)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	return feedSplit(t, dec, data, sizes...)
}

// zipTrailerLen is the size of everything after the entry data for an entry
// whose sizes fit in 32 bits.
func zipTrailerLen(name string) int {
	return zipDataDescLen + zipCentralDirLen + len(name) + zip64EndLen + zip64LocatorLen + zipEndLen
}

func TestZipRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":       {},
		"foobar":      []byte("foobar"),
		"chunk":       textBytes(ChunkSize),
		"chunk+1":     randomBytes(ChunkSize+1, 3),
		"text 300k":   textBytes(300000),
		"random 400k": randomBytes(400000, 9),
	}

	for name, data := range inputs {
		for _, split := range splitPatterns {
			if len(split) == 1 && split[0] == 1 && len(data) > 20000 {
				continue
			}
			t.Run(fmt.Sprintf("%s/%v", name, split), func(t *testing.T) {
				encoded := zipEncode(t, NewZipCodec(), "/docs/file.txt", data, split...)
				decoded, err := zipDecode(t, "/docs/file.txt", encoded, split...)
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				if !bytes.Equal(decoded, data) {
					t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(data))
				}
			})
		}
	}
}

func TestZipReadableByStdlib(t *testing.T) {
	for _, data := range [][]byte{{}, []byte("foobar"), textBytes(100000), randomBytes(50000, 5)} {
		c := NewZipCodec()
		c.now = fixedClock
		encoded := zipEncode(t, c, "/docs/file.txt", data)

		zr, err := zip.NewReader(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatalf("zip.NewReader failed: %v", err)
		}
		if len(zr.File) != 1 {
			t.Fatalf("archive has %d entries, want 1", len(zr.File))
		}
		f := zr.File[0]
		if f.Name != "docs/file.txt" {
			t.Errorf("entry name = %q, want %q", f.Name, "docs/file.txt")
		}
		if f.CRC32 != crc32.ChecksumIEEE(data) {
			t.Errorf("entry CRC = %08x, want %08x", f.CRC32, crc32.ChecksumIEEE(data))
		}
		if f.UncompressedSize64 != uint64(len(data)) {
			t.Errorf("entry size = %d, want %d", f.UncompressedSize64, len(data))
		}

		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open entry failed: %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("stdlib read failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("stdlib decoded %d bytes, want %d", len(got), len(data))
		}
	}
}

func TestZipDecodesStdlibOutput(t *testing.T) {
	data := textBytes(90000)

	for _, method := range []uint16{zip.Deflate, zip.Store} {
		t.Run(fmt.Sprintf("method %d", method), func(t *testing.T) {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			w, err := zw.CreateHeader(&zip.FileHeader{Name: "file.txt", Method: method})
			if err != nil {
				t.Fatalf("CreateHeader failed: %v", err)
			}
			if _, err := w.Write(data); err != nil {
				t.Fatalf("stdlib write failed: %v", err)
			}
			if err := zw.Close(); err != nil {
				t.Fatalf("stdlib close failed: %v", err)
			}

			for _, split := range splitPatterns[2:] {
				got, err := zipDecode(t, "file.txt", buf.Bytes(), split...)
				if err != nil {
					t.Fatalf("decode of stdlib archive failed: %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("decoded %d bytes, want %d", len(got), len(data))
				}
			}
		})
	}
}

func TestZipLayout(t *testing.T) {
	c := NewZipCodec()
	c.now = fixedClock
	name := "/file.txt"
	encoded := zipEncode(t, c, name, []byte("foobar"))
	le := binary.LittleEndian

	t.Run("local header", func(t *testing.T) {
		h := encoded
		if le.Uint32(h[0:]) != zipLocalHeaderSig {
			t.Fatalf("signature = %08x", le.Uint32(h[0:]))
		}
		checks := []struct {
			field string
			got   uint32
			want  uint32
		}{
			{"version needed", uint32(le.Uint16(h[4:])), 45},
			{"flags", uint32(le.Uint16(h[6:])), 0x0008},
			{"method", uint32(le.Uint16(h[8:])), 8},
			{"dos time", le.Uint32(h[10:]), dosTime(fixedClock())},
			{"crc", le.Uint32(h[14:]), 0},
			{"compressed size", le.Uint32(h[18:]), 0xffffffff},
			{"uncompressed size", le.Uint32(h[22:]), 0xffffffff},
			{"name length", uint32(le.Uint16(h[26:])), uint32(len("file.txt"))},
			{"extra length", uint32(le.Uint16(h[28:])), 20},
		}
		for _, c := range checks {
			if c.got != c.want {
				t.Errorf("%s = %#x, want %#x", c.field, c.got, c.want)
			}
		}
		if got := string(h[30:38]); got != "file.txt" {
			t.Errorf("entry name = %q, want %q", got, "file.txt")
		}
		if le.Uint16(h[38:]) != zip64ExtraID || le.Uint16(h[40:]) != 16 {
			t.Errorf("zip64 extra header = % x", h[38:42])
		}
	})

	t.Run("descriptor", func(t *testing.T) {
		d := encoded[len(encoded)-zipTrailerLen("file.txt"):]
		if le.Uint32(d[0:]) != zipDataDescSig {
			t.Fatalf("descriptor signature = %08x", le.Uint32(d[0:]))
		}
		if le.Uint32(d[4:]) != crc32.ChecksumIEEE([]byte("foobar")) {
			t.Errorf("descriptor CRC = %08x", le.Uint32(d[4:]))
		}
		if le.Uint64(d[16:]) != 6 {
			t.Errorf("descriptor uncompressed size = %d, want 6", le.Uint64(d[16:]))
		}
	})

	t.Run("end record", func(t *testing.T) {
		eocd := encoded[len(encoded)-zipEndLen:]
		if le.Uint32(eocd[0:]) != zipEndSig {
			t.Fatalf("end signature = %08x", le.Uint32(eocd[0:]))
		}
		if le.Uint16(eocd[8:]) != 1 || le.Uint16(eocd[10:]) != 1 {
			t.Errorf("entry counts = %d/%d, want 1/1", le.Uint16(eocd[8:]), le.Uint16(eocd[10:]))
		}
		if got := le.Uint32(eocd[12:]); got != uint32(zipCentralDirLen+len("file.txt")) {
			t.Errorf("central directory size = %d", got)
		}
		cdrOffset := len(encoded) - zipTrailerLen("file.txt") + zipDataDescLen
		if got := le.Uint32(eocd[16:]); got != uint32(cdrOffset) {
			t.Errorf("central directory offset = %d, want %d", got, cdrOffset)
		}
		if le.Uint32(encoded[cdrOffset:]) != zipCentralDirSig {
			t.Errorf("no central directory at offset %d", cdrOffset)
		}
	})
}

func TestDosTime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want uint32
	}{
		{"regular", fixedClock(), 41<<25 | 11<<21 | 19<<16 | 14<<11 | 43<<5 | 2},
		{"odd seconds round down", time.Date(1980, 1, 1, 0, 0, 59, 0, time.UTC), 1<<21 | 1<<16 | 29},
		{"before epoch", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 1<<21 | 1<<16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dosTime(tt.in); got != tt.want {
				t.Errorf("dosTime() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestZipChecksum(t *testing.T) {
	encoded := zipEncode(t, NewZipCodec(), "/c.txt", textBytes(20000))
	crcAt := len(encoded) - zipTrailerLen("c.txt") + 4
	encoded[crcAt] ^= 0x01

	_, err := zipDecode(t, "/c.txt", encoded)
	if !IsCorruptionError(err) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestZipRejectsForeignStream(t *testing.T) {
	_, err := zipDecode(t, "/x", textBytes(100))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestZipTruncation(t *testing.T) {
	encoded := zipEncode(t, NewZipCodec(), "/t.txt", textBytes(3000))

	for cut := 0; cut < len(encoded); cut++ {
		_, err := zipDecode(t, "/t.txt", encoded[:cut])
		if !IsCorruptionError(err) {
			t.Fatalf("prefix of %d/%d bytes: expected CorruptionError, got %v", cut, len(encoded), err)
		}
	}

	_, err := zipDecode(t, "/t.txt", append(bytes.Clone(encoded), 0))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("trailing byte: expected ErrInvalidHeader, got %v", err)
	}
}

func TestZipTrailerTamper(t *testing.T) {
	const name = "t.txt"
	encoded := zipEncode(t, NewZipCodec(), "/"+name, []byte("hello world hello world"))
	start := len(encoded) - zipTrailerLen(name)

	// Fields no reader can check against anything else in the archive.
	cdr := zipDataDescLen
	zip64End := cdr + zipCentralDirLen + len(name)
	unchecked := map[int]bool{
		cdr + 4: true, cdr + 5: true, // version made by
		cdr + 36: true, cdr + 37: true, // internal attributes
		cdr + 38: true, cdr + 39: true, cdr + 40: true, cdr + 41: true, // external attributes
		zip64End + 12: true, zip64End + 13: true, zip64End + 14: true, zip64End + 15: true, // versions
	}

	for off := 0; off < zipTrailerLen(name); off++ {
		if unchecked[off] {
			continue
		}
		for _, mask := range []byte{0x01, 0x80} {
			tampered := bytes.Clone(encoded)
			tampered[start+off] ^= mask
			got, err := zipDecode(t, "/"+name, tampered)
			if !IsCorruptionError(err) {
				t.Errorf("trailer byte %d ^ %#02x: expected CorruptionError, got %q, %v", off, mask, got, err)
			}
		}
	}
}

func TestZipDescriptorSizes(t *testing.T) {
	encoded := zipEncode(t, NewZipCodec(), "/s.txt", textBytes(5000))
	desc := len(encoded) - zipTrailerLen("s.txt")

	for _, field := range []struct {
		name string
		at   int
	}{
		{"compressed size", desc + 8},
		{"uncompressed size", desc + 16},
	} {
		tampered := bytes.Clone(encoded)
		binary.LittleEndian.PutUint64(tampered[field.at:], binary.LittleEndian.Uint64(tampered[field.at:])+1)
		_, err := zipDecode(t, "/s.txt", tampered)
		if !errors.Is(err, ErrChecksum) {
			t.Errorf("%s off by one: expected ErrChecksum, got %v", field.name, err)
		}
	}
}

func TestZipRejectsNULName(t *testing.T) {
	_, err := NewZipCodec().NewEncoder("a\x00b")
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}
