package transformfs

import (
	"crypto/rand"
	"fmt"
)

const (
	// KeySize is the length of a ChunkedCipher key in bytes.
	KeySize = streamKeyBytes

	// cipherChunkSize is the ciphertext size of every sealed unit except
	// the last; the plaintext carried by such a unit is cipherChunkSize
	// minus the tag overhead.
	cipherChunkSize  = ChunkSize
	cipherPlainChunk = cipherChunkSize - streamABytes
)

// ChunkedCipher encrypts streams in authenticated chunks. The ciphertext is
// a 24-byte stream header followed by sealed units of 8192 bytes, the last
// one shorter and tagged final so that truncation is always detected.
type ChunkedCipher struct {
	keys KeyProvider
}

// NewChunkedCipher returns a cipher that asks keys for the raw key once per
// stream.
func NewChunkedCipher(keys KeyProvider) (*ChunkedCipher, error) {
	if keys == nil {
		return nil, &ConfigurationError{Field: "keys", Message: "key provider cannot be nil", Err: ErrNilKeyProvider}
	}
	return &ChunkedCipher{keys: keys}, nil
}

// Extension returns ".encrypted"
func (c *ChunkedCipher) Extension() string { return ".encrypted" }

// NewEncoder derives a fresh stream state under a random header. The raw
// key is wiped before NewEncoder returns.
func (c *ChunkedCipher) NewEncoder(name string) (Filter, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	header := make([]byte, streamHeaderBytes)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("failed to generate stream header: %w", err)
	}
	state, err := newSecretStream(key, header)
	if err != nil {
		return nil, err
	}
	return &cipherEncoder{name: name, state: state, header: header}, nil
}

// NewDecoder returns a filter that decrypts a stream. The key is held only
// until the stream header has arrived.
func (c *ChunkedCipher) NewDecoder(name string) (Filter, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	return &cipherDecoder{name: name, key: key}, nil
}

func (c *ChunkedCipher) key() ([]byte, error) {
	key, err := c.keys.Key()
	if err != nil {
		return nil, err
	}
	if err := ValidateKey(key, KeySize); err != nil {
		wipe(key)
		return nil, err
	}
	return key, nil
}

type cipherEncoder struct {
	filterState
	name   string
	state  *secretStream
	header []byte
	buf    []byte
}

func (e *cipherEncoder) Feed(p []byte) ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	out := e.takeHeader()
	e.buf = append(e.buf, p...)
	for len(e.buf) >= cipherPlainChunk {
		out = append(out, e.state.push(e.buf[:cipherPlainChunk], TagMessage)...)
		e.buf = e.buf[cipherPlainChunk:]
	}
	return out, nil
}

func (e *cipherEncoder) Finish() ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.closed = true
	out := e.takeHeader()
	out = append(out, e.state.push(e.buf, TagFinal)...)
	wipe(e.buf)
	e.buf = nil
	e.state.wipe()
	return out, nil
}

func (e *cipherEncoder) takeHeader() []byte {
	h := e.header
	e.header = nil
	return h
}

type cipherDecoder struct {
	filterState
	name  string
	key   []byte
	state *secretStream
	buf   []byte
	chunk uint32
}

func (d *cipherDecoder) Feed(p []byte) ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	d.buf = append(d.buf, p...)
	if d.state == nil {
		if len(d.buf) < streamHeaderBytes {
			return nil, nil
		}
		if err := d.init(); err != nil {
			return nil, d.fail(err)
		}
	}

	var out []byte
	// A unit is only opened once more bytes follow it; the last unit
	// belongs to Finish and must be the final one.
	for len(d.buf) > cipherChunkSize {
		m, err := d.open(d.buf[:cipherChunkSize], TagMessage)
		if err != nil {
			d.release()
			return out, d.fail(err)
		}
		out = append(out, m...)
		d.buf = d.buf[cipherChunkSize:]
	}
	return out, nil
}

func (d *cipherDecoder) Finish() ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	d.closed = true
	defer d.release()

	if d.state == nil {
		if len(d.buf) < streamHeaderBytes {
			return nil, NewCorruptionError(d.name, ErrTruncated, "incomplete stream header")
		}
		if err := d.init(); err != nil {
			return nil, err
		}
	}
	if len(d.buf) < streamABytes {
		return nil, &CorruptionError{Path: d.name, ChunkIdx: d.chunk, Message: "stream ended before final chunk", Err: ErrTruncated}
	}
	return d.open(d.buf, TagFinal)
}

func (d *cipherDecoder) init() error {
	state, err := newSecretStream(d.key, d.buf[:streamHeaderBytes])
	wipe(d.key)
	d.key = nil
	if err != nil {
		return NewCorruptionError(d.name, ErrInvalidHeader, err.Error())
	}
	d.state = state
	d.buf = d.buf[streamHeaderBytes:]
	return nil
}

func (d *cipherDecoder) open(unit []byte, want byte) ([]byte, error) {
	m, tag, err := d.state.pull(unit)
	if err != nil {
		return nil, &CorruptionError{Path: d.name, ChunkIdx: d.chunk, Message: "chunk authentication failed", Err: ErrAuthFailed}
	}
	if tag != want {
		wipe(m)
		if want == TagFinal {
			return nil, &CorruptionError{Path: d.name, ChunkIdx: d.chunk, Message: "stream ended before final chunk", Err: ErrTruncated}
		}
		msg := fmt.Sprintf("unexpected chunk tag %d", tag)
		return nil, &CorruptionError{Path: d.name, ChunkIdx: d.chunk, Message: msg, Err: ErrInvalidHeader}
	}
	d.chunk++
	return m, nil
}

func (d *cipherDecoder) release() {
	if d.key != nil {
		wipe(d.key)
		d.key = nil
	}
	if d.state != nil {
		d.state.wipe()
	}
}
