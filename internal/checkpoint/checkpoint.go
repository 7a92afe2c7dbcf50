// Package checkpoint encodes the finalized head and its authority set so that
// a light client can resume verification after a restart.
//
// The encoding is:
//
//	magic "SMCK" | version | uvarint-prefixed header | uvarint-prefixed set | BLAKE2b-256 checksum
//
// The checksum covers every byte before it.
package checkpoint

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/josepot/smoldot/crypto"
	"github.com/josepot/smoldot/types"
)

// Version is the checkpoint encoding version written by Save.
const Version = 1

var magic = []byte("SMCK")

var (
	// ErrCorrupt means the bytes are not a checkpoint or fail the checksum.
	ErrCorrupt = errors.New("corrupt checkpoint")
	// ErrUnsupportedVersion means the checkpoint was written by an
	// incompatible version.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	// ErrNoCheckpoint means the store holds no checkpoint yet.
	ErrNoCheckpoint = errors.New("no checkpoint")
)

// PersistenceError is returned when a checkpoint cannot be written or read
// back. Err is one of the sentinel errors above or an I/O error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Save encodes h and set.
func Save(h *types.Header, set *types.AuthoritySet) ([]byte, error) {
	if h == nil {
		return nil, &PersistenceError{Op: "save", Err: errors.New("nil header")}
	}
	if set == nil {
		return nil, &PersistenceError{Op: "save", Err: errors.New("nil authority set")}
	}
	if err := set.ValidateBasic(); err != nil {
		return nil, &PersistenceError{Op: "save", Err: err}
	}

	enc := types.NewEncoder()
	enc.Fixed(magic)
	enc.Byte(Version)
	enc.ByteSlice(h.Bytes())
	enc.ByteSlice(set.Bytes())
	bz := enc.Bytes()
	return append(bz, crypto.Checksum(bz)...), nil
}

// Load decodes a checkpoint produced by Save. Any corruption is reported as a
// *PersistenceError wrapping ErrCorrupt or ErrUnsupportedVersion.
func Load(bz []byte) (*types.Header, *types.AuthoritySet, error) {
	if len(bz) < len(magic)+1+crypto.HashSize || !bytes.HasPrefix(bz, magic) {
		return nil, nil, corrupt("not a checkpoint")
	}
	body, sum := bz[:len(bz)-crypto.HashSize], bz[len(bz)-crypto.HashSize:]
	if !bytes.Equal(crypto.Checksum(body), sum) {
		return nil, nil, corrupt("checksum mismatch")
	}

	dec := types.NewDecoder(body[len(magic):])
	if v := dec.Byte(); v != Version {
		return nil, nil, &PersistenceError{
			Op:  "load",
			Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, v),
		}
	}
	headerBz := dec.ByteSlice()
	setBz := dec.ByteSlice()
	if err := dec.Finish(); err != nil {
		return nil, nil, corrupt(err.Error())
	}

	h, err := types.DecodeHeader(headerBz)
	if err != nil {
		return nil, nil, corrupt(err.Error())
	}
	set, err := types.DecodeAuthoritySet(setBz)
	if err != nil {
		return nil, nil, corrupt(err.Error())
	}
	if err := set.ValidateBasic(); err != nil {
		return nil, nil, corrupt(err.Error())
	}
	return h, set, nil
}

func corrupt(reason string) *PersistenceError {
	return &PersistenceError{Op: "load", Err: fmt.Errorf("%w: %s", ErrCorrupt, reason)}
}
