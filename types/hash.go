package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/josepot/smoldot/crypto"
)

// HashSize is the length of every block, state and extrinsics hash.
const HashSize = crypto.HashSize

// Hash is a BLAKE2b-256 digest. The zero value is the "no hash" marker used by
// the genesis parent and by requests addressed by number.
type Hash [HashSize]byte

// HashBytes hashes bz.
func HashBytes(bz []byte) Hash {
	return Hash(crypto.Blake2b256(bz))
}

// HashFromHex parses a hex encoded hash with or without 0x prefix.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	bz, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(bz) != HashSize {
		return h, fmt.Errorf("invalid hash length: expected %d, got %d", HashSize, len(bz))
	}
	copy(h[:], bz)
	return h, nil
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of h as a slice.
func (h Hash) Bytes() []byte {
	bz := make([]byte, HashSize)
	copy(bz, h[:])
	return bz
}

// Less orders hashes bytewise. Used as the last fork-choice tie-break.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Short is a log friendly abbreviation of the hash.
func (h Hash) Short() string {
	return fmt.Sprintf("%X", h[:6])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
