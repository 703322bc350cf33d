// Package types defines the identifiers shared by the bci storage and
// service layers.
//
// Programs are content addressed: a ProgramID is the BLAKE3 digest of the
// raw bytecode, rendered in base58. Run output is fingerprinted with
// SHA3-256 so journal records can be compared without storing every line.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Size constants for core types.
const (
	ProgramIDSize = 32
	DigestSize    = 32
)

var (
	// ErrInvalidProgramID is returned when a program ID has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")

	// ErrInvalidDigest is returned when a digest has invalid length.
	ErrInvalidDigest = errors.New("invalid digest: must be 32 bytes")
)

// ProgramID identifies a stored program by the BLAKE3 hash of its bytecode.
type ProgramID [ProgramIDSize]byte

// ProgramIDFromCode computes the ID of a bytecode program.
func ProgramIDFromCode(code []byte) ProgramID {
	return ProgramID(blake3.Sum256(code))
}

// ProgramIDFromBase58 parses a base58-encoded program ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// Matches reports whether code hashes to id.
func (id ProgramID) Matches(code []byte) bool {
	return ProgramIDFromCode(code) == id
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Digest is a SHA3-256 fingerprint of a run's printed output.
type Digest [DigestSize]byte

// OutputDigest hashes output lines exactly as PRINT writes them: each line
// followed by a newline.
func OutputDigest(lines []string) Digest {
	h := sha3.New256()
	for _, line := range lines {
		io.WriteString(h, line)
		h.Write([]byte{'\n'})
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// OutputDigestBytes hashes raw output as written to a stream.
func OutputDigestBytes(out []byte) Digest {
	return Digest(sha3.Sum256(out))
}

// DigestFromHex parses a hex-encoded digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	data, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) != DigestSize {
		return d, ErrInvalidDigest
	}
	copy(d[:], data)
	return d, nil
}

// Hex returns the hex-encoded representation.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String returns the hex-encoded representation.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero returns true if the digest is all zeros.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := DigestFromHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
