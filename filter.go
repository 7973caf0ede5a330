package transformfs

import (
	"io"
)

// filterState tracks whether a filter has become terminal. Every filter
// embeds one and calls enter before doing any work.
type filterState struct {
	closed bool
}

func (s *filterState) enter() error {
	if s.closed {
		return ErrFilterClosed
	}
	return nil
}

// fail makes the filter terminal and passes err through.
func (s *filterState) fail(err error) error {
	s.closed = true
	return err
}

// reader pulls from src on demand and hands out filtered bytes.
type reader struct {
	src  io.Reader
	f    Filter
	in   []byte
	out  []byte
	eof  bool
	err  error
	done bool
}

// NewReader wraps src so that everything read from it passes through f. The
// source is read one chunk at a time and only when the output buffer has been
// drained. At end of input f is finished and its trailer is delivered before
// io.EOF. Closing the reader closes src if it is an io.Closer.
func NewReader(src io.Reader, f Filter) io.ReadCloser {
	return &reader{src: src, f: f, in: make([]byte, ChunkSize)}
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		r.fill()
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *reader) fill() {
	n, err := r.src.Read(r.in)
	if n > 0 {
		out, ferr := r.f.Feed(r.in[:n])
		r.out = append(r.out, out...)
		if ferr != nil {
			r.err = ferr
			return
		}
	}
	switch {
	case err == io.EOF:
		out, ferr := r.f.Finish()
		r.out = append(r.out, out...)
		r.eof = true
		r.err = ferr
	case err != nil:
		r.err = err
	}
}

func (r *reader) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// writer pushes every Write through a filter into dst.
type writer struct {
	dst io.Writer
	f   Filter
}

// NewWriter returns a writer that feeds f and writes its output to dst.
// Close finishes the filter and writes the trailer; it does not close dst.
// A writer abandoned without Close leaves dst without a trailer, which the
// matching decoder rejects.
func NewWriter(dst io.Writer, f Filter) io.WriteCloser {
	return &writer{dst: dst, f: f}
}

func (w *writer) Write(p []byte) (int, error) {
	out, err := w.f.Feed(p)
	if err != nil {
		return 0, err
	}
	if len(out) > 0 {
		if _, err := w.dst.Write(out); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *writer) Close() error {
	out, err := w.f.Finish()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		_, err = w.dst.Write(out)
	}
	return err
}
