package transformfs

import (
	"bytes"
	"errors"
	"io"
)

// Pipeline composes transforms. Encoding runs them in declared order and
// decoding in exact reverse order. Each stage is named after what it wraps:
// the logical name plus the extensions of the stages before it.
type Pipeline struct {
	transforms []Transform
	ext        string
}

// NewPipeline returns a pipeline over transforms in declared order.
func NewPipeline(transforms ...Transform) (*Pipeline, error) {
	cfg := &Config{Transforms: transforms}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{transforms: transforms}
	for _, t := range transforms {
		p.ext += t.Extension()
	}
	return p, nil
}

// Extension returns the concatenated suffix of every stage.
func (p *Pipeline) Extension() string {
	return p.ext
}

// stageNames returns the name each stage sees for the logical name.
func (p *Pipeline) stageNames(name string) []string {
	names := make([]string, len(p.transforms))
	for i, t := range p.transforms {
		names[i] = name
		name += t.Extension()
	}
	return names
}

// NewEncoder returns a filter running every stage's encoder in order. All
// stages are constructed up front, so a rejected name fails before any byte
// is produced.
func (p *Pipeline) NewEncoder(name string) (Filter, error) {
	names := p.stageNames(name)
	stages := make([]Filter, len(p.transforms))
	for i, t := range p.transforms {
		f, err := t.NewEncoder(names[i])
		if err != nil {
			return nil, err
		}
		stages[i] = f
	}
	return &chain{name: name, stages: stages}, nil
}

// NewDecoder returns a filter running every stage's decoder in reverse order.
func (p *Pipeline) NewDecoder(name string) (Filter, error) {
	names := p.stageNames(name)
	n := len(p.transforms)
	stages := make([]Filter, n)
	for i := n - 1; i >= 0; i-- {
		f, err := p.transforms[i].NewDecoder(names[i])
		if err != nil {
			return nil, err
		}
		stages[n-1-i] = f
	}
	return &chain{name: name, stages: stages}, nil
}

// Encode encodes a whole buffer.
func (p *Pipeline) Encode(name string, plaintext []byte) ([]byte, error) {
	f, err := p.NewEncoder(name)
	if err != nil {
		return nil, err
	}
	return runFilter(f, plaintext)
}

// Decode decodes a whole buffer.
func (p *Pipeline) Decode(name string, encoded []byte) ([]byte, error) {
	f, err := p.NewDecoder(name)
	if err != nil {
		return nil, err
	}
	return runFilter(f, encoded)
}

// EncodeReader returns a reader yielding the encoded form of r.
func (p *Pipeline) EncodeReader(name string, r io.Reader) (io.ReadCloser, error) {
	f, err := p.NewEncoder(name)
	if err != nil {
		return nil, err
	}
	return NewReader(r, f), nil
}

// DecodeReader returns a reader yielding the decoded form of r.
func (p *Pipeline) DecodeReader(name string, r io.Reader) (io.ReadCloser, error) {
	f, err := p.NewDecoder(name)
	if err != nil {
		return nil, err
	}
	return NewReader(r, f), nil
}

func runFilter(f Filter, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	for off := 0; off < len(in); off += ChunkSize {
		end := min(off+ChunkSize, len(in))
		out, err := f.Feed(in[off:end])
		if err != nil {
			return nil, err
		}
		buf.Write(out)
	}
	out, err := f.Finish()
	if err != nil {
		return nil, err
	}
	buf.Write(out)
	return buf.Bytes(), nil
}

// chain feeds the output of each filter into the next. Corruption reported
// by any stage is attributed to the logical name rather than the stage name.
type chain struct {
	filterState
	name   string
	stages []Filter
}

func (c *chain) attribute(err error) error {
	var ce *CorruptionError
	if errors.As(err, &ce) {
		ce.Path = c.name
	}
	return err
}

func (c *chain) Feed(p []byte) ([]byte, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	data := p
	for _, f := range c.stages {
		if len(data) == 0 {
			return nil, nil
		}
		out, err := f.Feed(data)
		if err != nil {
			return nil, c.fail(c.attribute(err))
		}
		data = out
	}
	return data, nil
}

// Finish finishes the stages front to back, pushing each stage's trailer
// through the stages after it before they are finished in turn.
func (c *chain) Finish() ([]byte, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	c.closed = true
	var data []byte
	for _, f := range c.stages {
		var out []byte
		if len(data) > 0 {
			fed, err := f.Feed(data)
			if err != nil {
				return nil, c.attribute(err)
			}
			out = fed
		}
		tail, err := f.Finish()
		if err != nil {
			return nil, c.attribute(err)
		}
		data = append(out, tail...)
	}
	return data, nil
}
