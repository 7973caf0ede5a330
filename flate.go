package transformfs

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// inflateLookahead is the amount of compressed input kept buffered ahead of
// the inflater while more input may still arrive. A flate reader treats an
// empty source as a fatal unexpected EOF, so it is only advanced while it
// cannot possibly run dry. One Read emits at most a 32 KiB window; stored
// blocks cost about one input byte per output byte, but a stream may pad
// with empty blocks, so the margin is kept well above that. Between writes
// a decoder holds less than this much input plus one window.
const inflateLookahead = 256 << 10

// deflater compresses a raw deflate stream into an in-memory buffer that is
// handed back to the caller as it fills.
type deflater struct {
	buf bytes.Buffer
	w   *flate.Writer
}

func newDeflater(level int) (*deflater, error) {
	d := &deflater{}
	w, err := flate.NewWriter(&d.buf, level)
	if err != nil {
		return nil, NewConfigurationError("level", level, err.Error())
	}
	d.w = w
	return d, nil
}

func (d *deflater) write(p []byte) ([]byte, error) {
	if _, err := d.w.Write(p); err != nil {
		return nil, err
	}
	return d.take(), nil
}

func (d *deflater) close() ([]byte, error) {
	if err := d.w.Close(); err != nil {
		return nil, err
	}
	return d.take(), nil
}

func (d *deflater) take() []byte {
	if d.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(d.buf.Bytes())
	d.buf.Reset()
	return out
}

// inflater decodes a raw deflate stream that arrives in pieces. Compressed
// bytes are queued in a bytes.Buffer, which the flate reader consumes through
// io.ByteReader without reading past the end of the final block. Whatever is
// left in the queue once the stream ends is the container trailer.
type inflater struct {
	in   bytes.Buffer
	fr   io.ReadCloser
	buf  []byte
	done bool
}

func newInflater() *inflater {
	i := &inflater{buf: make([]byte, 32<<10)}
	i.fr = flate.NewReader(&i.in)
	return i
}

// write queues p and returns whatever can be inflated without risk of the
// reader running out of input.
func (i *inflater) write(p []byte) ([]byte, error) {
	i.in.Write(p)
	return i.drain(inflateLookahead)
}

// finish inflates the rest of the stream. Input that ends before the final
// block is reported as ErrTruncated.
func (i *inflater) finish() ([]byte, error) {
	out, err := i.drain(0)
	if err != nil {
		return out, err
	}
	if !i.done {
		return out, ErrTruncated
	}
	return out, nil
}

func (i *inflater) drain(margin int) ([]byte, error) {
	var out []byte
	for !i.done && (margin == 0 || i.in.Len() >= margin) {
		n, err := i.fr.Read(i.buf)
		out = append(out, i.buf[:n]...)
		switch {
		case err == io.EOF:
			i.done = true
		case err == io.ErrUnexpectedEOF:
			return out, ErrTruncated
		case err != nil:
			return out, err
		case n == 0 && margin == 0 && i.in.Len() == 0:
			return out, ErrTruncated
		}
	}
	return out, nil
}

// trailer returns the bytes that followed the end of the deflate stream.
func (i *inflater) trailer() []byte {
	return i.in.Bytes()
}
