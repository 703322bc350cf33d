// Package programstore provides persistent, content-addressed storage for
// bytecode programs.
package programstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/vm"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a program doesn't exist.
	ErrNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrInvalidProgram is returned for empty or oversized bytecode.
	ErrInvalidProgram = errors.New("invalid program")

	// ErrCorrupt is returned when stored bytecode no longer matches its ID.
	ErrCorrupt = errors.New("stored program corrupt")
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores zstd-compressed bytecode keyed by program ID.
	bucketPrograms = []byte("programs")

	// bucketProgramMeta stores gob-encoded Meta keyed by program ID.
	bucketProgramMeta = []byte("program_meta")

	// bucketMetadata stores store-wide counters.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyProgramCount = []byte("program_count")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout is how long to wait for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default program store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is the program store interface.
type Store interface {
	Put(code []byte, name string) (types.ProgramID, error)
	Get(id types.ProgramID) (*Program, error)
	GetMeta(id types.ProgramID) (*Meta, error)
	Has(id types.ProgramID) bool
	Delete(id types.ProgramID) error
	List() ([]Meta, error)
	Count() uint64
	GetStats() (*Stats, error)
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config
	codec  *codec

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a program store at the configured path.
func Open(config Config) (*BoltStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd: %w", err)
	}

	store := &BoltStore{
		db:     db,
		config: config,
		codec:  c,
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			store.close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPrograms, bucketProgramMeta, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put stores code under its content hash and returns the ID. Storing the
// same code twice is a no-op that returns the same ID; the first name wins.
func (s *BoltStore) Put(code []byte, name string) (types.ProgramID, error) {
	var id types.ProgramID
	if s.isClosed() {
		return id, ErrClosed
	}
	if len(code) == 0 {
		return id, fmt.Errorf("%w: empty", ErrInvalidProgram)
	}
	if len(code) > vm.MaxInsts {
		return id, fmt.Errorf("%w: %d bytes, max %d", ErrInvalidProgram, len(code), vm.MaxInsts)
	}

	id = types.ProgramIDFromCode(code)
	compressed := s.codec.compress(code)
	meta := &Meta{
		ID:         id,
		Name:       name,
		Size:       len(code),
		StoredSize: len(compressed),
		CreatedAt:  time.Now().UTC(),
	}
	metaData, err := encodeMeta(meta)
	if err != nil {
		return id, fmt.Errorf("encode meta: %w", err)
	}

	return id, s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if programs.Get(id[:]) != nil {
			return nil
		}
		if err := programs.Put(id[:], compressed); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProgramMeta).Put(id[:], metaData); err != nil {
			return err
		}
		return bumpCount(tx, 1)
	})
}

// Get retrieves a program and verifies its code against the ID.
func (s *BoltStore) Get(id types.ProgramID) (*Program, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var (
		compressed []byte
		meta       *Meta
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrograms).Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		// Bolt values are only valid for the life of the transaction.
		compressed = append([]byte(nil), data...)

		metaData := tx.Bucket(bucketProgramMeta).Get(id[:])
		if metaData == nil {
			return fmt.Errorf("%w: missing meta for %s", ErrCorrupt, id)
		}
		var err error
		meta, err = decodeMeta(metaData)
		return err
	})
	if err != nil {
		return nil, err
	}

	code, err := s.codec.decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %v", ErrCorrupt, id, err)
	}
	if !id.Matches(code) {
		return nil, fmt.Errorf("%w: hash mismatch for %s", ErrCorrupt, id)
	}

	return &Program{Meta: *meta, Code: code}, nil
}

// GetMeta retrieves a program's metadata without decompressing its code.
func (s *BoltStore) GetMeta(id types.ProgramID) (*Meta, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var meta *Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProgramMeta).Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		var err error
		meta, err = decodeMeta(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Has checks if a program exists.
func (s *BoltStore) Has(id types.ProgramID) bool {
	if s.isClosed() {
		return false
	}

	var exists bool
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketPrograms).Get(id[:]) != nil
		return nil
	})
	return exists
}

// Delete removes a program. Deleting a missing program returns ErrNotFound.
func (s *BoltStore) Delete(id types.ProgramID) error {
	if s.isClosed() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if programs.Get(id[:]) == nil {
			return ErrNotFound
		}
		if err := programs.Delete(id[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProgramMeta).Delete(id[:]); err != nil {
			return err
		}
		return bumpCount(tx, -1)
	})
}

// bumpCount adjusts the persisted program count inside tx.
func bumpCount(tx *bolt.Tx, delta int) error {
	meta := tx.Bucket(bucketMetadata)
	n := decodeCount(meta.Get(keyProgramCount))
	if delta < 0 && n > 0 {
		n--
	} else if delta > 0 {
		n++
	}
	return meta.Put(keyProgramCount, encodeCount(n))
}

// List returns metadata for every stored program, ordered by ID.
func (s *BoltStore) List() ([]Meta, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var metas []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgramMeta).ForEach(func(k, v []byte) error {
			m, err := decodeMeta(v)
			if err != nil {
				return fmt.Errorf("decode meta: %w", err)
			}
			metas = append(metas, *m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Count returns the number of stored programs.
func (s *BoltStore) Count() uint64 {
	if s.isClosed() {
		return 0
	}

	var n uint64
	s.db.View(func(tx *bolt.Tx) error {
		if meta := tx.Bucket(bucketMetadata); meta != nil {
			n = decodeCount(meta.Get(keyProgramCount))
		}
		return nil
	})
	return n
}

// GetStats returns program store statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	stats := &Stats{ProgramCount: s.Count()}
	for _, m := range metas {
		stats.TotalBytes += uint64(m.Size)
		stats.StoredBytes += uint64(m.StoredSize)
	}

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close closes the store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.close()
}

func (s *BoltStore) close() error {
	s.codec.close()
	return s.db.Close()
}
