package transformfs

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"
)

// feedSplit runs data through f in pieces of the given sizes, cycling through
// sizes until data is exhausted.
func feedSplit(t *testing.T, f Filter, data []byte, sizes ...int) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	if len(sizes) == 0 {
		sizes = []int{len(data)}
	}
	for i := 0; len(data) > 0; i++ {
		n := min(sizes[i%len(sizes)], len(data))
		if n <= 0 {
			n = len(data)
		}
		b, err := f.Feed(data[:n])
		out.Write(b)
		if err != nil {
			return out.Bytes(), err
		}
		data = data[n:]
	}
	b, err := f.Finish()
	out.Write(b)
	return out.Bytes(), err
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func textBytes(n int) []byte {
	const line = "the quick brown fox jumps over the lazy dog 0123456789\n"
	return []byte(strings.Repeat(line, n/len(line)+1)[:n])
}

var splitPatterns = [][]int{
	nil,
	{1},
	{7, 3, 1},
	{ChunkSize},
	{ChunkSize + 1, 100},
}

func TestReaderPullsThroughFilter(t *testing.T) {
	data := textBytes(50000)
	codec := NewGzipCodec()

	enc, err := codec.NewEncoder("/a.txt")
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	encoded, err := io.ReadAll(NewReader(iotest.OneByteReader(bytes.NewReader(data)), enc))
	if err != nil {
		t.Fatalf("reading encoded stream failed: %v", err)
	}

	dec, err := codec.NewDecoder("/a.txt")
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	decoded, err := io.ReadAll(iotest.HalfReader(NewReader(bytes.NewReader(encoded), dec)))
	if err != nil {
		t.Fatalf("reading decoded stream failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(data))
	}
}

func TestReaderReportsDecodeError(t *testing.T) {
	dec, _ := NewGzipCodec().NewDecoder("/bad.txt")
	_, err := io.ReadAll(NewReader(strings.NewReader("definitely not gzip"), dec))
	if !IsCorruptionError(err) {
		t.Errorf("expected CorruptionError, got %v", err)
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestReaderCloseClosesSource(t *testing.T) {
	src := &closeRecorder{Reader: strings.NewReader("x")}
	enc, _ := NewGzipCodec().NewEncoder("x")
	r := NewReader(src, enc)
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !src.closed {
		t.Error("source was not closed")
	}
}

func TestWriterPushesThroughFilter(t *testing.T) {
	data := randomBytes(40000, 1)
	key, _ := GenerateKey()
	keys, _ := NewStaticKeyProvider(key)
	c, _ := NewChunkedCipher(keys)

	enc, err := c.NewEncoder("/w.bin")
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	var encoded bytes.Buffer
	w := NewWriter(&encoded, enc)
	for off := 0; off < len(data); off += 1000 {
		if _, err := w.Write(data[off:min(off+1000, len(data))]); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dec, _ := c.NewDecoder("/w.bin")
	var decoded bytes.Buffer
	dw := NewWriter(&decoded, dec)
	if _, err := dw.Write(encoded.Bytes()); err != nil {
		t.Fatalf("decode Write failed: %v", err)
	}
	if err := dw.Close(); err != nil {
		t.Fatalf("decode Close failed: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), data) {
		t.Error("round trip mismatch")
	}
}

func TestFiltersAreTerminalAfterFinish(t *testing.T) {
	key, _ := GenerateKey()
	keys, _ := NewStaticKeyProvider(key)
	c, _ := NewChunkedCipher(keys)

	transforms := []Transform{NewGzipCodec(), NewZipCodec(), c}
	for _, tr := range transforms {
		t.Run(tr.Extension(), func(t *testing.T) {
			enc, err := tr.NewEncoder("/t.txt")
			if err != nil {
				t.Fatalf("NewEncoder failed: %v", err)
			}
			encoded, err := feedSplit(t, enc, []byte("payload"))
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if _, err := enc.Feed([]byte("more")); !errors.Is(err, ErrFilterClosed) {
				t.Errorf("Feed after Finish = %v, want ErrFilterClosed", err)
			}
			if _, err := enc.Finish(); !errors.Is(err, ErrFilterClosed) {
				t.Errorf("Finish after Finish = %v, want ErrFilterClosed", err)
			}

			dec, _ := tr.NewDecoder("/t.txt")
			if _, err := feedSplit(t, dec, encoded); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if _, err := dec.Feed(nil); !errors.Is(err, ErrFilterClosed) {
				t.Errorf("decoder Feed after Finish = %v, want ErrFilterClosed", err)
			}
		})
	}
}

func TestFilterTerminalAfterError(t *testing.T) {
	dec, _ := NewGzipCodec().NewDecoder("/x")
	if _, err := dec.Feed([]byte("0123456789abcdef")); err == nil {
		t.Fatal("expected error for bad magic")
	}
	if _, err := dec.Finish(); !errors.Is(err, ErrFilterClosed) {
		t.Errorf("Finish after error = %v, want ErrFilterClosed", err)
	}
}
