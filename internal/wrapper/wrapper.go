// Package wrapper implements the block wrapper protocol: the low-level
// chaining mechanism that lets a serialized structure larger than one block
// span several blocks. Each chunk carries its payload, a SHA-256 of the
// payload, and an optional pointer to the next block in the chain. Both the
// block map (which bootstraps from block 0) and the metadata root are stored
// as wrapper chains.
package wrapper

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
)

// Wrapper is one chunk of a chained structure.
type Wrapper struct {
	Payload     []byte
	PayloadHash [32]byte
	Next        ufs.BlockNumber
	HasNext     bool
}

// Overhead is the worst-case number of bytes the wrapper framing consumes in
// a block: an 8-byte payload length prefix, the 32-byte payload hash, a
// 1-byte next tag, and an 8-byte next pointer.
const Overhead = 8 + 32 + 1 + 8

// ChunkSize returns the number of payload bytes that fit in one block of the
// given size.
func ChunkSize(blockSize ufs.BlockSize) int {
	return int(blockSize) - Overhead
}

// New builds a wrapper around payload, computing its hash. next is ignored
// unless hasNext is true.
func New(payload []byte, next ufs.BlockNumber, hasNext bool) Wrapper {
	return Wrapper{
		Payload:     payload,
		PayloadHash: sha256.Sum256(payload),
		Next:        next,
		HasNext:     hasNext,
	}
}

// Encode serializes w into the canonical on-disk form: little-endian
// fixed-width integers, length-prefixed payload, 1-byte option tag before
// the next pointer.
func (w Wrapper) Encode() []byte {
	buf := make([]byte, 0, len(w.Payload)+Overhead)
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(w.Payload)))
	buf = append(buf, scratch[:]...)
	buf = append(buf, w.Payload...)
	buf = append(buf, w.PayloadHash[:]...)
	if w.HasNext {
		buf = append(buf, 1)
		binary.LittleEndian.PutUint64(scratch[:], uint64(w.Next))
		buf = append(buf, scratch[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// Decode parses the canonical form, validating the payload hash. A chunk
// whose hash does not match is corrupt and must not be used; decoding fails
// rather than returning the damaged payload.
func Decode(b []byte) (Wrapper, error) {
	var w Wrapper
	if len(b) < 8 {
		return w, ufs.NewError(ufs.CodeBadData, "wrapper: truncated length prefix", nil)
	}
	n := binary.LittleEndian.Uint64(b[:8])
	b = b[8:]
	// A garbage (wrong-password) block can carry any length prefix; guard
	// against overflow before slicing.
	if n > uint64(len(b)) || uint64(len(b))-n < 32+1 {
		return w, ufs.NewError(ufs.CodeBadData, "wrapper: truncated payload", nil)
	}
	w.Payload = append([]byte(nil), b[:n]...)
	b = b[n:]
	copy(w.PayloadHash[:], b[:32])
	b = b[32:]
	switch b[0] {
	case 0:
		w.HasNext = false
	case 1:
		if len(b) < 1+8 {
			return w, ufs.NewError(ufs.CodeBadData, "wrapper: truncated next pointer", nil)
		}
		w.HasNext = true
		w.Next = ufs.BlockNumber(binary.LittleEndian.Uint64(b[1:9]))
	default:
		return w, ufs.NewError(ufs.CodeBadData, "wrapper: bad next tag", nil)
	}
	if sha256.Sum256(w.Payload) != w.PayloadHash {
		return w, ufs.NewError(ufs.CodeBadData, "wrapper: payload hash validation failed", nil)
	}
	return w, nil
}

// ReadChain follows a wrapper chain from start, concatenating the validated
// payloads. read is the raw single-block read of the underlying store.
func ReadChain(read func(ufs.BlockNumber) ([]byte, error), start ufs.BlockNumber) ([]byte, error) {
	var out []byte
	n := start
	for {
		raw, err := read(n)
		if err != nil {
			return nil, xerrors.Errorf("wrapper: reading chain block %d: %w", n, err)
		}
		w, err := Decode(raw)
		if err != nil {
			return nil, xerrors.Errorf("wrapper: chain block %d: %w", n, err)
		}
		out = append(out, w.Payload...)
		if !w.HasNext {
			return out, nil
		}
		n = w.Next
	}
}

// WriteChain chunks data across the given blocks, linking each chunk to the
// next, and writes every chunk with write. The block list must already be
// large enough to hold the data; Chunks says how many are needed.
func WriteChain(write func(ufs.BlockNumber, []byte) error, blocks []ufs.BlockNumber, blockSize ufs.BlockSize, data []byte) error {
	chunkSize := ChunkSize(blockSize)
	need := Chunks(len(data), blockSize)
	if need > len(blocks) {
		return xerrors.Errorf("wrapper: %d blocks provided, %d needed", len(blocks), need)
	}
	for i := 0; i < need; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(data) {
			hi = len(data)
		}
		var next ufs.BlockNumber
		hasNext := i < need-1
		if hasNext {
			next = blocks[i+1]
		}
		w := New(data[lo:hi], next, hasNext)
		if err := write(blocks[i], w.Encode()); err != nil {
			return xerrors.Errorf("wrapper: writing chain block %d: %w", blocks[i], err)
		}
	}
	return nil
}

// Chunks returns the number of blocks a chain for dataLen payload bytes
// occupies. Zero-length data still occupies one block, so an empty structure
// remains addressable.
func Chunks(dataLen int, blockSize ufs.BlockSize) int {
	chunkSize := ChunkSize(blockSize)
	n := dataLen / chunkSize
	if dataLen%chunkSize > 0 || n == 0 {
		n++
	}
	return n
}
