package types

import (
	"errors"
	"fmt"

	pool "github.com/libp2p/go-buffer-pool"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxItemSize bounds every length-prefixed byte string on the wire.
	MaxItemSize = 1 << 20
	// MaxListLength bounds every list on the wire.
	MaxListLength = 1 << 16

	initialEncoderSize = 256
)

// ErrMalformedEncoding is returned (wrapped) by every decoder in this package.
var ErrMalformedEncoding = errors.New("malformed encoding")

// Encoder builds the canonical binary encoding shared by hashing, signing,
// the wire and the checkpoint format. Integers are protobuf varints, hashes
// and keys are fixed width, byte strings are protobuf length-delimited
// values. Fields are positional; no tags are written.
//
// The zero value is not usable; call NewEncoder and finish with Bytes.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder backed by a pooled buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: pool.Get(initialEncoderSize)[:0]}
}

func (e *Encoder) Uvarint(v uint64) {
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *Encoder) Byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *Encoder) Bool(b bool) {
	e.Byte(byte(protowire.EncodeBool(b)))
}

func (e *Encoder) Hash(h Hash) {
	e.buf = append(e.buf, h[:]...)
}

// Fixed appends bz without a length prefix.
func (e *Encoder) Fixed(bz []byte) {
	e.buf = append(e.buf, bz...)
}

// ByteSlice appends bz with a length prefix.
func (e *Encoder) ByteSlice(bz []byte) {
	e.buf = protowire.AppendBytes(e.buf, bz)
}

// Bytes returns the encoding and releases the pooled buffer. The encoder must
// not be used afterwards.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	pool.Put(e.buf)
	e.buf = nil
	return out
}

// Decoder reads the encoding produced by Encoder. The first error is sticky:
// every later read returns zero values and Err reports it.
type Decoder struct {
	bz  []byte
	err error
}

func NewDecoder(bz []byte) *Decoder {
	return &Decoder{bz: bz}
}

func (d *Decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrMalformedEncoding, fmt.Sprintf(format, args...))
	}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining is the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.bz) }

// Finish returns the first decoding error, or an error if bytes are left over.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.bz) != 0 {
		d.fail("%d trailing bytes", len(d.bz))
	}
	return d.err
}

func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.bz)
	if n < 0 {
		d.fail("bad varint: %v", protowire.ParseError(n))
		return 0
	}
	d.bz = d.bz[n:]
	return v
}

// Length reads a list or byte string length and checks it against max.
func (d *Decoder) Length(max int) int {
	v := d.Uvarint()
	if d.err != nil {
		return 0
	}
	if v > uint64(max) {
		d.fail("length %d exceeds %d", v, max)
		return 0
	}
	return int(v)
}

func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.bz) < 1 {
		d.fail("unexpected end of input")
		return 0
	}
	b := d.bz[0]
	d.bz = d.bz[1:]
	return b
}

func (d *Decoder) Bool() bool {
	switch d.Byte() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("invalid bool")
		return false
	}
}

func (d *Decoder) Hash() Hash {
	var h Hash
	copy(h[:], d.Fixed(HashSize))
	return h
}

// Fixed reads exactly n bytes and returns a copy.
func (d *Decoder) Fixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.bz) < n {
		d.fail("unexpected end of input: want %d bytes, have %d", n, len(d.bz))
		return nil
	}
	out := make([]byte, n)
	copy(out, d.bz[:n])
	d.bz = d.bz[n:]
	return out
}

// ByteSlice reads a length prefixed byte string of at most MaxItemSize bytes.
func (d *Decoder) ByteSlice() []byte {
	if d.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.bz)
	if n < 0 {
		d.fail("bad byte string: %v", protowire.ParseError(n))
		return nil
	}
	if len(v) > MaxItemSize {
		d.fail("length %d exceeds %d", len(v), MaxItemSize)
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	d.bz = d.bz[n:]
	return out
}
