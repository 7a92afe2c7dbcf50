package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncoderUsesProtobufWireFormat(t *testing.T) {
	enc := NewEncoder()
	enc.Uvarint(300)
	enc.Bool(true)
	enc.ByteSlice([]byte("abc"))

	var want []byte
	want = protowire.AppendVarint(want, 300)
	want = protowire.AppendVarint(want, protowire.EncodeBool(true))
	want = protowire.AppendBytes(want, []byte("abc"))
	assert.Equal(t, want, enc.Bytes())
}

func TestDecoderRoundTrip(t *testing.T) {
	hash := HashBytes([]byte("x"))
	enc := NewEncoder()
	enc.Uvarint(1 << 40)
	enc.Hash(hash)
	enc.ByteSlice(nil)
	enc.ByteSlice([]byte{1, 2, 3})
	enc.Bool(false)

	dec := NewDecoder(enc.Bytes())
	assert.EqualValues(t, 1<<40, dec.Uvarint())
	assert.Equal(t, hash, dec.Hash())
	assert.Empty(t, dec.ByteSlice())
	assert.Equal(t, []byte{1, 2, 3}, dec.ByteSlice())
	assert.False(t, dec.Bool())
	require.NoError(t, dec.Finish())
}

func TestDecoderErrors(t *testing.T) {
	testCases := map[string]struct {
		input []byte
		read  func(d *Decoder)
	}{
		"truncated varint": {[]byte{0x80}, func(d *Decoder) { d.Uvarint() }},
		"overlong varint": {
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
			func(d *Decoder) { d.Uvarint() },
		},
		"short byte string": {protowire.AppendVarint(nil, 5), func(d *Decoder) { d.ByteSlice() }},
		"oversized byte string": {
			protowire.AppendBytes(nil, make([]byte, MaxItemSize+1)),
			func(d *Decoder) { d.ByteSlice() },
		},
		"invalid bool":   {[]byte{2}, func(d *Decoder) { d.Bool() }},
		"short hash":     {[]byte{1, 2}, func(d *Decoder) { d.Hash() }},
		"trailing bytes": {[]byte{1, 2}, func(d *Decoder) { d.Byte() }},
	}
	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			dec := NewDecoder(tc.input)
			tc.read(dec)
			assert.ErrorIs(t, dec.Finish(), ErrMalformedEncoding)
		})
	}
}
