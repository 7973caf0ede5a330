package transformfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// Gzip header flags (RFC 1952 section 2.3.1)
const (
	gzipID1      = 0x1f
	gzipID2      = 0x8b
	gzipDeflate  = 0x08
	gzipFHCRC    = 0x02
	gzipFEXTRA   = 0x04
	gzipFNAME    = 0x08
	gzipFCOMMENT = 0x10
	gzipReserved = 0xe0
	gzipOSUnix   = 0x03

	gzipHeaderLen  = 10
	gzipTrailerLen = 8
)

// GzipCodec wraps each stream in a single-member gzip container carrying the
// base name of the stream.
type GzipCodec struct {
	// Level is the deflate compression level (flate.NoCompression through
	// flate.BestCompression, or flate.DefaultCompression).
	Level int

	// IgnoreSize skips the ISIZE comparison on decode. The CRC is always
	// verified.
	IgnoreSize bool

	now func() time.Time
}

// NewGzipCodec returns a gzip codec using the default compression level.
func NewGzipCodec() *GzipCodec {
	return &GzipCodec{Level: flate.DefaultCompression}
}

// Extension returns ".gz"
func (c *GzipCodec) Extension() string { return ".gz" }

// NewEncoder returns a filter that produces a gzip stream whose FNAME field is
// the base name of name.
func (c *GzipCodec) NewEncoder(name string) (Filter, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	d, err := newDeflater(c.Level)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}

	base := baseName(name)
	header := make([]byte, gzipHeaderLen, gzipHeaderLen+len(base)+1)
	header[0] = gzipID1
	header[1] = gzipID2
	header[2] = gzipDeflate
	header[3] = gzipFNAME
	binary.LittleEndian.PutUint32(header[4:8], uint32(now().Unix()))
	header[8] = 0
	header[9] = gzipOSUnix
	header = append(header, base...)
	header = append(header, 0)

	return &gzipEncoder{header: header, d: d}, nil
}

// NewDecoder returns a filter that decodes a gzip stream. name is only used
// in error messages.
func (c *GzipCodec) NewDecoder(name string) (Filter, error) {
	return &gzipDecoder{
		name:       name,
		ignoreSize: c.IgnoreSize,
		inf:        newInflater(),
	}, nil
}

type gzipEncoder struct {
	filterState
	header []byte
	d      *deflater
	crc    uint32
	size   uint32
}

func (e *gzipEncoder) Feed(p []byte) ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.crc = crc32.Update(e.crc, crc32.IEEETable, p)
	e.size += uint32(len(p))
	out, err := e.d.write(p)
	if err != nil {
		return nil, e.fail(err)
	}
	return e.withHeader(out), nil
}

func (e *gzipEncoder) Finish() ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.closed = true
	out, err := e.d.close()
	if err != nil {
		return nil, err
	}
	out = e.withHeader(out)
	out = binary.LittleEndian.AppendUint32(out, e.crc)
	out = binary.LittleEndian.AppendUint32(out, e.size)
	return out, nil
}

// withHeader prepends the pending header to the first non-empty body chunk.
func (e *gzipEncoder) withHeader(out []byte) []byte {
	if e.header == nil || len(out) == 0 {
		return out
	}
	out = append(e.header, out...)
	e.header = nil
	return out
}

type gzipDecoder struct {
	filterState
	name       string
	ignoreSize bool
	head       []byte
	inHeader   bool
	inf        *inflater
	crc        uint32
	size       uint32
}

func (d *gzipDecoder) Feed(p []byte) ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	if !d.inHeader {
		d.head = append(d.head, p...)
		n, err := parseGzipHeader(d.head)
		if err != nil {
			return nil, d.fail(NewCorruptionError(d.name, ErrInvalidHeader, err.Error()))
		}
		if n == 0 {
			return nil, nil
		}
		d.inHeader = true
		p = d.head[n:]
		d.head = nil
	}
	out, err := d.inf.write(p)
	d.account(out)
	if err != nil {
		return out, d.fail(d.inflateError(err))
	}
	return out, nil
}

func (d *gzipDecoder) Finish() ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	d.closed = true
	if !d.inHeader {
		return nil, NewCorruptionError(d.name, ErrTruncated, "incomplete gzip header")
	}
	out, err := d.inf.finish()
	d.account(out)
	if err != nil {
		return out, d.inflateError(err)
	}

	trailer := d.inf.trailer()
	switch {
	case len(trailer) < gzipTrailerLen:
		return out, NewCorruptionError(d.name, ErrTruncated, "incomplete gzip trailer")
	case len(trailer) > gzipTrailerLen:
		return out, NewCorruptionError(d.name, ErrInvalidHeader, "unexpected data after gzip trailer")
	}
	if binary.LittleEndian.Uint32(trailer[0:4]) != d.crc {
		return out, NewCorruptionError(d.name, ErrChecksum, "CRC32 checksum failed")
	}
	if !d.ignoreSize && binary.LittleEndian.Uint32(trailer[4:8]) != d.size {
		return out, NewCorruptionError(d.name, ErrChecksum, "uncompressed size mismatch")
	}
	return out, nil
}

func (d *gzipDecoder) account(out []byte) {
	d.crc = crc32.Update(d.crc, crc32.IEEETable, out)
	d.size += uint32(len(out))
}

func (d *gzipDecoder) inflateError(err error) error {
	if errors.Is(err, ErrTruncated) {
		return NewCorruptionError(d.name, ErrTruncated, "gzip stream truncated")
	}
	return NewCorruptionError(d.name, err, "invalid deflate data")
}

// parseGzipHeader returns the length of the complete header at the start of
// b, or 0 if more bytes are needed.
func parseGzipHeader(b []byte) (int, error) {
	if len(b) < gzipHeaderLen {
		return 0, nil
	}
	if b[0] != gzipID1 || b[1] != gzipID2 {
		return 0, errors.New("stream is not gzip")
	}
	if b[2] != gzipDeflate {
		return 0, errors.New("unsupported compression method")
	}
	flg := b[3]
	if flg&gzipReserved != 0 {
		return 0, errors.New("reserved header flags set")
	}

	pos := gzipHeaderLen
	if flg&gzipFEXTRA != 0 {
		if len(b) < pos+2 {
			return 0, nil
		}
		pos += 2 + int(binary.LittleEndian.Uint16(b[pos:]))
	}
	for _, f := range []byte{gzipFNAME, gzipFCOMMENT} {
		if flg&f == 0 {
			continue
		}
		if pos > len(b) {
			return 0, nil
		}
		i := bytes.IndexByte(b[pos:], 0)
		if i < 0 {
			return 0, nil
		}
		pos += i + 1
	}
	if flg&gzipFHCRC != 0 {
		pos += 2
	}
	if pos > len(b) {
		return 0, nil
	}
	return pos, nil
}

func baseName(name string) string {
	return name[strings.LastIndexByte(name, '/')+1:]
}
