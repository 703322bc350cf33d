// Package runlog provides the BadgerDB-backed run journal.
//
// Every run executed by the service is appended as a CBOR-encoded Record.
// Records are keyed by a monotonically increasing run ID, and a secondary
// index lists the runs of each program newest first.
package runlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/bci/internal/types"
)

var (
	// ErrNotFound is returned when a run record doesn't exist.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("run journal closed")
)

// Key prefixes for BadgerDB storage.
var (
	// prefixRun is the prefix for run records.
	// Key format: prefixRun + run ID (8 bytes big-endian)
	prefixRun = []byte{0x01}

	// prefixProgramRun indexes runs by program.
	// Key format: prefixProgramRun + program ID (32 bytes) + run ID (8 bytes)
	prefixProgramRun = []byte{0x02}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x03}

	// metaLastID is the key for the last assigned run ID.
	metaLastID = append(append([]byte{}, prefixMeta...), []byte("last_id")...)

	// metaCount is the key for the number of stored runs.
	metaCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// Config contains configuration for the run journal.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables badger's logging.
	Logger badger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: false,
	}
}

// Journal is the run journal.
type Journal struct {
	db *badger.DB

	// lastID and count mirror the persisted metadata.
	lastID atomic.Uint64
	count  atomic.Uint64

	// mu serializes appends so IDs are assigned in commit order.
	mu sync.Mutex

	closed atomic.Bool
}

// Open opens or creates a run journal.
func Open(cfg Config) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	j := &Journal{db: db}
	if err := j.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return j, nil
}

// loadMetadata loads the last ID and count from disk.
func (j *Journal) loadMetadata() error {
	return j.db.View(func(txn *badger.Txn) error {
		lastID, err := getUint64(txn, metaLastID)
		if err != nil {
			return err
		}
		count, err := getUint64(txn, metaCount)
		if err != nil {
			return err
		}
		j.lastID.Store(lastID)
		j.count.Store(count)
		return nil
	})
}

func getUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) >= 8 {
			n = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	return n, err
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// runKey returns the key for a run record.
func runKey(id uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixRun[0]
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

// programRunKey returns the index key for a run of a program.
func programRunKey(pid types.ProgramID, id uint64) []byte {
	key := make([]byte, 1+types.ProgramIDSize+8)
	key[0] = prefixProgramRun[0]
	copy(key[1:], pid[:])
	binary.BigEndian.PutUint64(key[1+types.ProgramIDSize:], id)
	return key
}

// Append stores r, assigning it the next run ID. r.ID is updated in place
// and also returned.
func (j *Journal) Append(r *Record) (uint64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.lastID.Load() + 1
	count := j.count.Load() + 1

	rec := *r
	rec.ID = id
	data, err := MarshalRecord(&rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(programRunKey(rec.ProgramID, id), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(metaLastID, encodeUint64(id)); err != nil {
			return err
		}
		return txn.Set(metaCount, encodeUint64(count))
	})
	if err != nil {
		return 0, err
	}

	j.lastID.Store(id)
	j.count.Store(count)
	r.ID = id
	return id, nil
}

// Get retrieves a run record by ID.
func (j *Journal) Get(id uint64) (*Record, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := j.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getRecord(txn *badger.Txn, id uint64) (*Record, error) {
	item, err := txn.Get(runKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = UnmarshalRecord(val)
		return err
	})
	return rec, err
}

// ListByProgram returns up to limit runs of a program, newest first. A
// limit of zero or less returns every run.
func (j *Journal) ListByProgram(pid types.ProgramID, limit int) ([]*Record, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	prefix := make([]byte, 1+types.ProgramIDSize)
	prefix[0] = prefixProgramRun[0]
	copy(prefix[1:], pid[:])

	var records []*Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible run ID for this program.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) != len(prefix)+8 {
				continue
			}
			rec, err := getRecord(txn, binary.BigEndian.Uint64(key[len(prefix):]))
			if err != nil {
				return err
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of journaled runs.
func (j *Journal) Count() uint64 {
	return j.count.Load()
}

// LastID returns the most recently assigned run ID, or zero.
func (j *Journal) LastID() uint64 {
	return j.lastID.Load()
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return ErrClosed
	}
	return j.db.Close()
}
