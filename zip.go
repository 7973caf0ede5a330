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

// Zip record signatures and field values (PKWARE APPNOTE)
const (
	zipLocalHeaderSig   = 0x04034b50
	zipCentralDirSig    = 0x02014b50
	zipDataDescSig      = 0x08074b50
	zipEndSig           = 0x06054b50
	zip64EndSig         = 0x06064b50
	zip64LocatorSig     = 0x07064b50
	zipVersionMadeBy    = 0x0603
	zipVersionZip64     = 0x002d
	zipFlagDataDesc     = 0x0008
	zipMethodDeflate    = 8
	zipExternalAttrs    = 32
	zip64ExtraID        = 0x0001
	zip64EndRecordSize  = 44
	zipUint32Max        = 0xffffffff
	zipLocalHeaderLen   = 30
	zipDataDescLen      = 24
	zipCentralDirLen    = 46
	zip64EndLen         = 56
	zip64LocatorLen     = 20
	zipEndLen           = 22
	zipMaxExtraLen      = 4 + 2*8
	zipTrailerFixedSize = zipDataDescLen + zipCentralDirLen + zipMaxExtraLen + zip64EndLen + zip64LocatorLen + zipEndLen
)

// ZipCodec wraps each stream in a single-entry ZIP64 archive written in
// streaming form: sizes and CRC are deferred to a data descriptor, so the
// archive can be produced without knowing the content length in advance.
type ZipCodec struct {
	// Level is the deflate compression level.
	Level int

	now func() time.Time
}

// NewZipCodec returns a zip codec using the default compression level.
func NewZipCodec() *ZipCodec {
	return &ZipCodec{Level: flate.DefaultCompression}
}

// Extension returns ".zip"
func (c *ZipCodec) Extension() string { return ".zip" }

// NewEncoder returns a filter that produces an archive holding one entry
// named after name, with any leading slashes removed.
func (c *ZipCodec) NewEncoder(name string) (Filter, error) {
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

	e := &zipEncoder{
		name:    strings.TrimLeft(name, "/"),
		dosTime: dosTime(now()),
		d:       d,
	}
	e.header = e.localHeader()
	e.headerLen = uint64(len(e.header))
	return e, nil
}

// NewDecoder returns a filter that extracts the single entry of an archive.
func (c *ZipCodec) NewDecoder(name string) (Filter, error) {
	return &zipDecoder{name: name}, nil
}

// dosTime packs t into the MS-DOS date and time format used by zip headers.
func dosTime(t time.Time) uint32 {
	year := t.Year() - 1980
	if year < 0 {
		return 1<<21 | 1<<16
	}
	return uint32(year)<<25 |
		uint32(t.Month())<<21 |
		uint32(t.Day())<<16 |
		uint32(t.Hour())<<11 |
		uint32(t.Minute())<<5 |
		uint32(t.Second())>>1
}

type zipEncoder struct {
	filterState
	name           string
	dosTime        uint32
	d              *deflater
	header         []byte
	headerLen      uint64
	crc            uint32
	originalSize   uint64
	compressedSize uint64
}

func (e *zipEncoder) Feed(p []byte) ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.crc = crc32.Update(e.crc, crc32.IEEETable, p)
	e.originalSize += uint64(len(p))
	out, err := e.d.write(p)
	if err != nil {
		return nil, e.fail(err)
	}
	e.compressedSize += uint64(len(out))
	return e.withHeader(out), nil
}

func (e *zipEncoder) Finish() ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.closed = true
	out, err := e.d.close()
	if err != nil {
		return nil, err
	}
	e.compressedSize += uint64(len(out))
	if e.header != nil {
		out = append(e.header, out...)
		e.header = nil
	}
	return append(out, e.trailer()...), nil
}

func (e *zipEncoder) withHeader(out []byte) []byte {
	if e.header == nil || len(out) == 0 {
		return out
	}
	out = append(e.header, out...)
	e.header = nil
	return out
}

func (e *zipEncoder) localHeader() []byte {
	extra := e.zip64Extra(true)
	b := make([]byte, 0, zipLocalHeaderLen+len(e.name)+len(extra))
	b = binary.LittleEndian.AppendUint32(b, zipLocalHeaderSig)
	b = binary.LittleEndian.AppendUint16(b, zipVersionZip64)
	b = binary.LittleEndian.AppendUint16(b, zipFlagDataDesc)
	b = binary.LittleEndian.AppendUint16(b, zipMethodDeflate)
	b = binary.LittleEndian.AppendUint32(b, e.dosTime)
	b = binary.LittleEndian.AppendUint32(b, 0) // crc, deferred
	b = binary.LittleEndian.AppendUint32(b, zipUint32Max)
	b = binary.LittleEndian.AppendUint32(b, zipUint32Max)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(e.name)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(extra)))
	b = append(b, e.name...)
	return append(b, extra...)
}

// zip64Extra builds the ZIP64 extended information field. In the local
// header both slots are always reserved; in the central directory only the
// sizes that do not fit in 32 bits are present.
func (e *zipEncoder) zip64Extra(force bool) []byte {
	var fields []byte
	if force || e.originalSize >= zipUint32Max {
		if force {
			fields = binary.LittleEndian.AppendUint64(fields, 0)
		} else {
			fields = binary.LittleEndian.AppendUint64(fields, e.originalSize)
		}
	}
	if force || e.compressedSize >= zipUint32Max {
		if force {
			fields = binary.LittleEndian.AppendUint64(fields, 0)
		} else {
			fields = binary.LittleEndian.AppendUint64(fields, e.compressedSize)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	b := make([]byte, 0, 4+len(fields))
	b = binary.LittleEndian.AppendUint16(b, zip64ExtraID)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(fields)))
	return append(b, fields...)
}

// trailer builds everything that follows the compressed body: data
// descriptor, central directory record, ZIP64 end of central directory,
// ZIP64 locator and end of central directory.
func (e *zipEncoder) trailer() []byte {
	b := make([]byte, 0, zipTrailerFixedSize+len(e.name))

	b = binary.LittleEndian.AppendUint32(b, zipDataDescSig)
	b = binary.LittleEndian.AppendUint32(b, e.crc)
	b = binary.LittleEndian.AppendUint64(b, e.compressedSize)
	b = binary.LittleEndian.AppendUint64(b, e.originalSize)

	cdrOffset := e.headerLen + e.compressedSize + zipDataDescLen

	extra := e.zip64Extra(false)
	cdrStart := len(b)
	b = binary.LittleEndian.AppendUint32(b, zipCentralDirSig)
	b = binary.LittleEndian.AppendUint16(b, zipVersionMadeBy)
	b = binary.LittleEndian.AppendUint16(b, zipVersionZip64)
	b = binary.LittleEndian.AppendUint16(b, zipFlagDataDesc)
	b = binary.LittleEndian.AppendUint16(b, zipMethodDeflate)
	b = binary.LittleEndian.AppendUint32(b, e.dosTime)
	b = binary.LittleEndian.AppendUint32(b, e.crc)
	b = binary.LittleEndian.AppendUint32(b, clamp32(e.compressedSize))
	b = binary.LittleEndian.AppendUint32(b, clamp32(e.originalSize))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(e.name)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(extra)))
	b = binary.LittleEndian.AppendUint16(b, 0) // comment length
	b = binary.LittleEndian.AppendUint16(b, 0) // disk number
	b = binary.LittleEndian.AppendUint16(b, 0) // internal attributes
	b = binary.LittleEndian.AppendUint32(b, zipExternalAttrs)
	b = binary.LittleEndian.AppendUint32(b, 0) // local header offset
	b = append(b, e.name...)
	b = append(b, extra...)
	cdrLen := uint64(len(b) - cdrStart)

	b = binary.LittleEndian.AppendUint32(b, zip64EndSig)
	b = binary.LittleEndian.AppendUint64(b, zip64EndRecordSize)
	b = binary.LittleEndian.AppendUint16(b, zipVersionMadeBy)
	b = binary.LittleEndian.AppendUint16(b, zipVersionZip64)
	b = binary.LittleEndian.AppendUint32(b, 0) // this disk
	b = binary.LittleEndian.AppendUint32(b, 0) // disk with central directory
	b = binary.LittleEndian.AppendUint64(b, 1) // entries on this disk
	b = binary.LittleEndian.AppendUint64(b, 1) // entries total
	b = binary.LittleEndian.AppendUint64(b, cdrLen)
	b = binary.LittleEndian.AppendUint64(b, cdrOffset)

	b = binary.LittleEndian.AppendUint32(b, zip64LocatorSig)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint64(b, cdrOffset+cdrLen)
	b = binary.LittleEndian.AppendUint32(b, 1)

	b = binary.LittleEndian.AppendUint32(b, zipEndSig)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint32(b, clamp32(cdrLen))
	b = binary.LittleEndian.AppendUint32(b, clamp32(cdrOffset))
	b = binary.LittleEndian.AppendUint16(b, 0) // comment length
	return b
}

func clamp32(v uint64) uint32 {
	if v >= zipUint32Max {
		return zipUint32Max
	}
	return uint32(v)
}

// zipDecoder extracts the first entry of a streamed archive. The end of the
// entry data is found by scanning the held-back tail for the first data
// descriptor signature, or the central directory signature when there is no
// descriptor. Compressed content that happens to contain one of those
// signatures inside the tail will be cut short there and then fail the
// trailer checks.
type zipDecoder struct {
	filterState
	name     string
	head     []byte
	started  bool
	local    zipLocalHeader
	holdback int
	tail     []byte
	inf      *inflater
	sum      uint32
	consumed uint64
	size     uint64
}

// zipLocalHeader holds the local header fields the central directory must
// repeat.
type zipLocalHeader struct {
	length     uint64
	version    uint16
	flags      uint16
	method     uint16
	modTime    uint32
	crc        uint32
	compressed uint64
	original   uint64
	entryName  []byte
	zip64      bool
}

func (d *zipDecoder) Feed(p []byte) ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	if !d.started {
		d.head = append(d.head, p...)
		n, err := d.parseLocalHeader()
		if err != nil {
			return nil, d.fail(err)
		}
		if n == 0 {
			return nil, nil
		}
		d.started = true
		p = d.head[n:]
		d.head = nil
	}

	d.tail = append(d.tail, p...)
	if len(d.tail) <= d.holdback {
		return nil, nil
	}
	cut := len(d.tail) - d.holdback
	out, err := d.content(d.tail[:cut])
	d.tail = append(d.tail[:0], d.tail[cut:]...)
	if err != nil {
		return out, d.fail(err)
	}
	return out, nil
}

func (d *zipDecoder) Finish() ([]byte, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	d.closed = true
	if !d.started {
		return nil, NewCorruptionError(d.name, ErrTruncated, "incomplete zip local header")
	}

	end := bytes.Index(d.tail, le32(zipDataDescSig))
	descriptor := end >= 0
	if !descriptor {
		end = bytes.Index(d.tail, le32(zipCentralDirSig))
		if end < 0 {
			return nil, NewCorruptionError(d.name, ErrTruncated, "zip central directory not found")
		}
	}
	trailer := d.tail[end:]

	out, err := d.content(d.tail[:end])
	d.tail = nil
	if err != nil {
		return out, err
	}
	if d.inf != nil {
		rest, err := d.inf.finish()
		out = append(out, rest...)
		d.sum = crc32.Update(d.sum, crc32.IEEETable, rest)
		d.size += uint64(len(rest))
		if err != nil {
			return out, d.inflateError(err)
		}
		if len(d.inf.trailer()) != 0 {
			return out, NewCorruptionError(d.name, ErrInvalidHeader, "unexpected data after deflate stream")
		}
	}
	if err := d.checkTrailer(trailer, descriptor); err != nil {
		return out, err
	}
	return out, nil
}

// checkTrailer verifies everything after the entry data against what was
// decoded: the data descriptor (or the local header when there is none),
// the central directory record and the end of central directory records.
// Only the version-made-by and attribute fields go unchecked.
func (d *zipDecoder) checkTrailer(t []byte, descriptor bool) error {
	le := binary.LittleEndian
	crc, compressed, original := d.local.crc, d.local.compressed, d.local.original

	descLen := 0
	if descriptor {
		// Writers without a ZIP64 local header use 32-bit sizes unless
		// the entry overflowed them.
		descLen = zipDataDescLen
		if !d.local.zip64 && hasSigAt(t, 16, zipCentralDirSig) {
			descLen = 16
		}
		if len(t) < descLen {
			return NewCorruptionError(d.name, ErrTruncated, "incomplete data descriptor")
		}
		crc = le.Uint32(t[4:8])
		if descLen == 16 {
			compressed, original = uint64(le.Uint32(t[8:12])), uint64(le.Uint32(t[12:16]))
		} else {
			compressed, original = le.Uint64(t[8:16]), le.Uint64(t[16:24])
		}
		t = t[descLen:]
	}
	if d.sum != crc {
		return NewCorruptionError(d.name, ErrChecksum, "CRC32 checksum failed")
	}
	if compressed != d.consumed || original != d.size {
		return NewCorruptionError(d.name, ErrChecksum, "entry size mismatch")
	}

	cdrLen, err := d.checkCentralDir(t, crc)
	if err != nil {
		return err
	}
	t = t[cdrLen:]
	cdrOffset := d.local.length + d.consumed + uint64(descLen)

	mismatch := func(record string) error {
		return NewCorruptionError(d.name, ErrInvalidHeader, record+" does not match the entry")
	}
	if hasSigAt(t, 0, zip64EndSig) {
		if len(t) < zip64EndLen {
			return NewCorruptionError(d.name, ErrTruncated, "incomplete zip64 end of central directory")
		}
		recLen := 12 + le.Uint64(t[4:12])
		if recLen < zip64EndLen {
			return mismatch("zip64 end of central directory")
		}
		if uint64(len(t)) < recLen {
			return NewCorruptionError(d.name, ErrTruncated, "incomplete zip64 end of central directory")
		}
		if le.Uint32(t[16:20]) != 0 || le.Uint32(t[20:24]) != 0 ||
			le.Uint64(t[24:32]) != 1 || le.Uint64(t[32:40]) != 1 ||
			le.Uint64(t[40:48]) != cdrLen || le.Uint64(t[48:56]) != cdrOffset {
			return mismatch("zip64 end of central directory")
		}
		t = t[recLen:]

		if len(t) < zip64LocatorLen {
			return NewCorruptionError(d.name, ErrTruncated, "incomplete zip64 locator")
		}
		if le.Uint32(t[0:4]) != zip64LocatorSig || le.Uint32(t[4:8]) != 0 ||
			le.Uint64(t[8:16]) != cdrOffset+cdrLen || le.Uint32(t[16:20]) != 1 {
			return mismatch("zip64 locator")
		}
		t = t[zip64LocatorLen:]
	}

	if len(t) < zipEndLen {
		return NewCorruptionError(d.name, ErrTruncated, "incomplete end of central directory")
	}
	if le.Uint32(t[0:4]) != zipEndSig || le.Uint16(t[4:6]) != 0 || le.Uint16(t[6:8]) != 0 ||
		le.Uint16(t[8:10]) != 1 || le.Uint16(t[10:12]) != 1 ||
		!match32(le.Uint32(t[12:16]), cdrLen) || !match32(le.Uint32(t[16:20]), cdrOffset) {
		return mismatch("end of central directory")
	}
	comment := int(le.Uint16(t[20:22]))
	switch rest := len(t) - zipEndLen; {
	case rest < comment:
		return NewCorruptionError(d.name, ErrTruncated, "incomplete archive comment")
	case rest > comment:
		return NewCorruptionError(d.name, ErrInvalidHeader, "unexpected data after end of central directory")
	}
	return nil
}

// checkCentralDir verifies the central directory record at the start of t
// against the local header and the decoded entry, and returns its length.
func (d *zipDecoder) checkCentralDir(t []byte, crc uint32) (uint64, error) {
	le := binary.LittleEndian
	if len(t) < zipCentralDirLen {
		return 0, NewCorruptionError(d.name, ErrTruncated, "incomplete central directory record")
	}
	if le.Uint32(t[0:4]) != zipCentralDirSig {
		return 0, NewCorruptionError(d.name, ErrInvalidHeader, "central directory record not found")
	}
	nameLen := int(le.Uint16(t[28:30]))
	extraLen := int(le.Uint16(t[30:32]))
	commentLen := int(le.Uint16(t[32:34]))
	n := zipCentralDirLen + nameLen + extraLen + commentLen
	if len(t) < n {
		return 0, NewCorruptionError(d.name, ErrTruncated, "incomplete central directory record")
	}

	if le.Uint32(t[16:20]) != crc {
		return 0, NewCorruptionError(d.name, ErrChecksum, "central directory CRC32 mismatch")
	}
	fields := zip64Fields(t[zipCentralDirLen+nameLen : zipCentralDirLen+nameLen+extraLen])
	originalOK, fields := zip64Size(le.Uint32(t[24:28]), d.size, fields)
	compressedOK, _ := zip64Size(le.Uint32(t[20:24]), d.consumed, fields)
	if !compressedOK || !originalOK {
		return 0, NewCorruptionError(d.name, ErrChecksum, "central directory size mismatch")
	}

	if le.Uint16(t[6:8]) != d.local.version || le.Uint16(t[8:10]) != d.local.flags ||
		le.Uint16(t[10:12]) != d.local.method || le.Uint32(t[12:16]) != d.local.modTime ||
		le.Uint16(t[34:36]) != 0 || !match32(le.Uint32(t[42:46]), 0) ||
		!bytes.Equal(t[zipCentralDirLen:zipCentralDirLen+nameLen], d.local.entryName) {
		return 0, NewCorruptionError(d.name, ErrInvalidHeader, "central directory does not match local header")
	}
	return uint64(n), nil
}

// zip64Size reports whether a 32-bit size field describes want. A field of
// 0xffffffff takes its value from the next ZIP64 extra field; the rest of
// the fields are returned.
func zip64Size(field uint32, want uint64, fields []uint64) (bool, []uint64) {
	if field != zipUint32Max {
		// Some writers store the low 32 bits instead of the sentinel.
		return uint64(field) == want || (want > zipUint32Max && field == uint32(want)), fields
	}
	if len(fields) == 0 {
		return false, nil
	}
	return fields[0] == want, fields[1:]
}

// zip64Fields returns the 8-byte values of the ZIP64 extended information
// field in extra, or nil when there is none.
func zip64Fields(extra []byte) []uint64 {
	le := binary.LittleEndian
	for len(extra) >= 4 {
		id, n := le.Uint16(extra[0:2]), int(le.Uint16(extra[2:4]))
		if len(extra) < 4+n {
			return nil
		}
		if id == zip64ExtraID {
			vals := []uint64{}
			for f := extra[4 : 4+n]; len(f) >= 8; f = f[8:] {
				vals = append(vals, le.Uint64(f))
			}
			return vals
		}
		extra = extra[4+n:]
	}
	return nil
}

// match32 reports whether a 32-bit field holds v, or the ZIP64 sentinel
// when v does not fit.
func match32(field uint32, v uint64) bool {
	if v >= zipUint32Max {
		return field == zipUint32Max || field == uint32(v)
	}
	return field == uint32(v)
}

func hasSigAt(b []byte, off int, sig uint32) bool {
	return len(b) >= off+4 && binary.LittleEndian.Uint32(b[off:]) == sig
}

// content decodes a run of entry data according to the entry's method.
func (d *zipDecoder) content(p []byte) ([]byte, error) {
	d.consumed += uint64(len(p))
	if d.inf == nil {
		out := bytes.Clone(p)
		d.sum = crc32.Update(d.sum, crc32.IEEETable, out)
		d.size += uint64(len(out))
		return out, nil
	}
	out, err := d.inf.write(p)
	d.sum = crc32.Update(d.sum, crc32.IEEETable, out)
	d.size += uint64(len(out))
	if err != nil {
		return out, d.inflateError(err)
	}
	return out, nil
}

func (d *zipDecoder) inflateError(err error) error {
	if errors.Is(err, ErrTruncated) {
		return NewCorruptionError(d.name, ErrTruncated, "zip entry truncated")
	}
	return NewCorruptionError(d.name, err, "invalid deflate data")
}

// parseLocalHeader reads the local file header buffered in d.head and
// returns its total length, or 0 when more bytes are needed.
func (d *zipDecoder) parseLocalHeader() (int, error) {
	if len(d.head) < zipLocalHeaderLen {
		return 0, nil
	}
	h := d.head
	if binary.LittleEndian.Uint32(h[0:4]) != zipLocalHeaderSig {
		return 0, NewCorruptionError(d.name, ErrInvalidHeader, "stream is not zip")
	}
	nameLen := int(binary.LittleEndian.Uint16(h[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(h[28:30]))
	n := zipLocalHeaderLen + nameLen + extraLen
	if len(h) < n {
		return 0, nil
	}

	le := binary.LittleEndian
	extra := h[zipLocalHeaderLen+nameLen : n]
	fields := zip64Fields(extra)
	d.local = zipLocalHeader{
		length:     uint64(n),
		version:    le.Uint16(h[4:6]),
		flags:      le.Uint16(h[6:8]),
		method:     le.Uint16(h[8:10]),
		modTime:    le.Uint32(h[10:14]),
		crc:        le.Uint32(h[14:18]),
		compressed: uint64(le.Uint32(h[18:22])),
		original:   uint64(le.Uint32(h[22:26])),
		entryName:  bytes.Clone(h[zipLocalHeaderLen : zipLocalHeaderLen+nameLen]),
		zip64:      fields != nil,
	}
	if d.local.original == zipUint32Max && len(fields) > 0 {
		d.local.original, fields = fields[0], fields[1:]
	}
	if d.local.compressed == zipUint32Max && len(fields) > 0 {
		d.local.compressed = fields[0]
	}
	d.holdback = ChunkSize + zipTrailerFixedSize + nameLen
	if d.local.method == zipMethodDeflate {
		d.inf = newInflater()
	}
	return n, nil
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}
