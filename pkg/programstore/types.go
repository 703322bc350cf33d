package programstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/klauspost/compress/zstd"
)

// Program is a stored bytecode program.
type Program struct {
	Meta

	// Code is the raw, uncompressed bytecode.
	Code []byte
}

// Meta describes a stored program without its code.
type Meta struct {
	// ID is the BLAKE3 hash of the bytecode.
	ID types.ProgramID

	// Name is an optional human label supplied at upload time.
	Name string

	// Size is the bytecode length in bytes.
	Size int

	// StoredSize is the compressed length on disk.
	StoredSize int

	// CreatedAt is when the program was first stored.
	CreatedAt time.Time
}

// Stats contains program store statistics.
type Stats struct {
	// ProgramCount is the number of stored programs.
	ProgramCount uint64

	// TotalBytes is the sum of the raw bytecode sizes.
	TotalBytes uint64

	// StoredBytes is the sum of the compressed sizes.
	StoredBytes uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

func encodeMeta(m *Meta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (*Meta, error) {
	var m Meta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// encodeCount encodes a counter as a big-endian 8-byte value.
func encodeCount(n uint64) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n)
	return v
}

// decodeCount decodes a counter written by encodeCount.
func decodeCount(v []byte) uint64 {
	if len(v) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// codec compresses bytecode at rest. zstd encoders and decoders are safe
// for concurrent EncodeAll/DecodeAll calls, so one pair serves the store.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) compress(code []byte) []byte {
	return c.enc.EncodeAll(code, nil)
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
