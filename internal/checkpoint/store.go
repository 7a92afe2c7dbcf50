package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/creachadair/atomicfile"
	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/josepot/smoldot/types"
)

// Store persists checkpoints. SaveCheckpoint must not return before the new
// checkpoint is durable, and a failed save must leave the previous checkpoint
// loadable.
type Store interface {
	SaveCheckpoint(h *types.Header, set *types.AuthoritySet) error
	// Load returns the latest checkpoint, or ErrNoCheckpoint.
	Load() (*types.Header, *types.AuthoritySet, error)
	// Reset removes every checkpoint.
	Reset() error
	Close() error
}

var (
	_ Store = (*DBStore)(nil)
	_ Store = (*FileStore)(nil)
)

const prefixCheckpoint = int64(0)

// DBStore keeps checkpoints in a key-value database, keyed by height. The
// checkpoint before the latest is retained until the next save.
type DBStore struct {
	mtx sync.Mutex
	db  dbm.DB
}

// NewDBStore returns a store backed by db.
func NewDBStore(db dbm.DB) *DBStore {
	return &DBStore{db: db}
}

// SaveCheckpoint writes a checkpoint at the header's height and removes every
// checkpoint but the previous one.
func (s *DBStore) SaveCheckpoint(h *types.Header, set *types.AuthoritySet) error {
	// checkpointKey(math.MaxInt64) bounds the height scan.
	if h != nil && h.Number >= math.MaxInt64 {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("height %d out of range", h.Number)}
	}
	bz, err := Save(h, set)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	heights, err := s.heights()
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(checkpointKey(h.Number), bz); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	// heights is descending; keep the newest existing one below h.
	kept := false
	for _, height := range heights {
		if height == h.Number {
			continue
		}
		if !kept && height < h.Number {
			kept = true
			continue
		}
		if err := batch.Delete(checkpointKey(height)); err != nil {
			return &PersistenceError{Op: "save", Err: err}
		}
	}
	if err := batch.WriteSync(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Load returns the highest checkpoint. A corrupt highest checkpoint is an
// error even when an older one is still stored.
func (s *DBStore) Load() (*types.Header, *types.AuthoritySet, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	heights, err := s.heights()
	if err != nil {
		return nil, nil, &PersistenceError{Op: "load", Err: err}
	}
	if len(heights) == 0 {
		return nil, nil, ErrNoCheckpoint
	}

	bz, err := s.db.Get(checkpointKey(heights[0]))
	if err != nil {
		return nil, nil, &PersistenceError{Op: "load", Err: err}
	}
	return Load(bz)
}

// Heights returns the heights of the stored checkpoints, highest first.
func (s *DBStore) Heights() ([]uint64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.heights()
}

func (s *DBStore) heights() ([]uint64, error) {
	iter, err := s.db.ReverseIterator(
		checkpointKey(0),
		checkpointKey(math.MaxInt64),
	)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []uint64
	for ; iter.Valid(); iter.Next() {
		height, err := decodeCheckpointKey(iter.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, height)
	}
	return out, iter.Error()
}

// Reset deletes every checkpoint.
func (s *DBStore) Reset() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	heights, err := s.heights()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, height := range heights {
		if err := batch.Delete(checkpointKey(height)); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (s *DBStore) Close() error {
	return s.db.Close()
}

func checkpointKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixCheckpoint, int64(height))
	if err != nil {
		panic(err)
	}
	return key
}

func decodeCheckpointKey(key []byte) (uint64, error) {
	var (
		prefix int64
		height int64
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return 0, err
	}
	if len(remaining) != 0 {
		return 0, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixCheckpoint {
		return 0, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixCheckpoint, prefix)
	}
	return uint64(height), nil
}

// FileStore keeps the latest checkpoint in a single file, replaced atomically
// on every save.
type FileStore struct {
	mtx  sync.Mutex
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) SaveCheckpoint(h *types.Header, set *types.AuthoritySet) error {
	bz, err := Save(h, set)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, err := atomicfile.WriteAll(s.path, bytes.NewReader(bz), 0600); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func (s *FileStore) Load() (*types.Header, *types.AuthoritySet, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	bz, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil, ErrNoCheckpoint
	case err != nil:
		return nil, nil, &PersistenceError{Op: "load", Err: err}
	}
	return Load(bz)
}

func (s *FileStore) Reset() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
