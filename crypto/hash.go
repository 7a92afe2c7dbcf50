package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// HashSize is the size in bytes of every hash produced by this package.
const HashSize = blake2b.Size256

// Blake2b256 returns the 32 byte BLAKE2b digest of bz.
func Blake2b256(bz []byte) [HashSize]byte {
	return blake2b.Sum256(bz)
}

// Checksum returns the BLAKE2b-256 of the concatenation of chunks.
func Checksum(chunks ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil)
}
