package transformfs

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// The stream construction below is byte-compatible with libsodium's
// crypto_secretstream_xchacha20poly1305: HChaCha20 derives a subkey from the
// key and the first half of a random header, every message is sealed with
// IETF ChaCha20 and Poly1305, and the nonce ratchets forward after each one.
const (
	streamKeyBytes    = chacha20.KeySize
	streamHeaderBytes = 24
	streamABytes      = 1 + poly1305.TagSize
	streamInonceBytes = 8
	streamCounterLen  = 4

	TagMessage byte = 0
	TagPush    byte = 1
	TagRekey   byte = 2
	TagFinal   byte = TagPush | TagRekey
)

var errStreamAuth = errors.New("secretstream: message forged")

var zeroPad [16]byte

// secretStream holds the per-stream key and the 12-byte nonce, which is a
// little-endian block counter followed by the 8-byte inonce.
type secretStream struct {
	k     [streamKeyBytes]byte
	nonce [chacha20.NonceSize]byte
}

func newSecretStream(key, header []byte) (*secretStream, error) {
	if len(header) != streamHeaderBytes {
		return nil, ErrInvalidHeader
	}
	subkey, err := chacha20.HChaCha20(key, header[:16])
	if err != nil {
		return nil, err
	}
	s := &secretStream{}
	copy(s.k[:], subkey)
	wipe(subkey)
	s.resetCounter()
	copy(s.nonce[streamCounterLen:], header[16:])
	return s, nil
}

func (s *secretStream) resetCounter() {
	for i := 0; i < streamCounterLen; i++ {
		s.nonce[i] = 0
	}
	s.nonce[0] = 1
}

// xor applies the ChaCha20 keystream starting at block counter ic.
func (s *secretStream) xor(dst, src []byte, ic uint32) {
	c, err := chacha20.NewUnauthenticatedCipher(s.k[:], s.nonce[:])
	if err != nil {
		panic(err)
	}
	if ic > 0 {
		c.SetCounter(ic)
	}
	c.XORKeyStream(dst, src)
}

// mac computes the Poly1305 tag over the tag block and ciphertext c.
func (s *secretStream) mac(block, c []byte) []byte {
	var polyKey [64]byte
	s.xor(polyKey[:], polyKey[:], 0)
	var key [32]byte
	copy(key[:], polyKey[:32])
	wipe(polyKey[:])
	m := poly1305.New(&key)
	wipe(key[:])

	m.Write(block)
	m.Write(c)
	m.Write(zeroPad[:(0x10-len(block)+len(c))&0xf])

	var slen [8]byte
	binary.LittleEndian.PutUint64(slen[:], 0)
	m.Write(slen[:])
	binary.LittleEndian.PutUint64(slen[:], uint64(len(block)+len(c)))
	m.Write(slen[:])
	return m.Sum(nil)
}

// push seals m under tag and returns tag byte, ciphertext and MAC.
func (s *secretStream) push(m []byte, tag byte) []byte {
	out := make([]byte, streamABytes+len(m))

	var block [64]byte
	block[0] = tag
	s.xor(block[:], block[:], 1)
	out[0] = block[0]

	c := out[1 : 1+len(m)]
	s.xor(c, m, 2)

	mac := s.mac(block[:], c)
	copy(out[1+len(m):], mac)

	s.advance(mac, tag)
	return out
}

// pull authenticates and opens one sealed message, returning the plaintext
// and its tag.
func (s *secretStream) pull(in []byte) ([]byte, byte, error) {
	if len(in) < streamABytes {
		return nil, 0, ErrTruncated
	}
	mlen := len(in) - streamABytes

	var block [64]byte
	block[0] = in[0]
	s.xor(block[:], block[:], 1)
	tag := block[0]
	block[0] = in[0]

	c := in[1 : 1+mlen]
	mac := s.mac(block[:], c)
	if subtle.ConstantTimeCompare(mac, in[1+mlen:]) != 1 {
		return nil, 0, errStreamAuth
	}

	m := make([]byte, mlen)
	s.xor(m, c, 2)

	s.advance(mac, tag)
	return m, tag, nil
}

func (s *secretStream) advance(mac []byte, tag byte) {
	for i := 0; i < streamInonceBytes; i++ {
		s.nonce[streamCounterLen+i] ^= mac[i]
	}
	counter := binary.LittleEndian.Uint32(s.nonce[:streamCounterLen]) + 1
	binary.LittleEndian.PutUint32(s.nonce[:streamCounterLen], counter)
	if tag&TagRekey != 0 || counter == 0 {
		s.rekey()
	}
}

func (s *secretStream) rekey() {
	var buf [streamKeyBytes + streamInonceBytes]byte
	copy(buf[:], s.k[:])
	copy(buf[streamKeyBytes:], s.nonce[streamCounterLen:])
	s.xor(buf[:], buf[:], 0)
	copy(s.k[:], buf[:streamKeyBytes])
	copy(s.nonce[streamCounterLen:], buf[streamKeyBytes:])
	wipe(buf[:])
	s.resetCounter()
}

func (s *secretStream) wipe() {
	wipe(s.k[:])
	wipe(s.nonce[:])
}
