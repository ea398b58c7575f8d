// Package backend implements the physical block stores a filesystem can
// live on: an in-memory array for tests and ephemeral mounts, a file-backed
// nibble tree for durable local storage, and an HTTP client/server pair for
// remote storage. A backend carries bytes to and from numbered slots and
// owns the block map; everything above it (allocation, hashing, payload
// encryption) belongs to the block manager.
package backend

import (
	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/blockmap"
)

// Backend is the capability set every block store provides.
type Backend interface {
	// ID returns the filesystem identity recorded in the block map.
	ID() ufs.ID
	// BlockSize returns the fixed block size.
	BlockSize() ufs.BlockSize
	// BlockCount returns the total number of blocks.
	BlockCount() uint64
	// ReadBlock returns the stored bytes of block n, with any at-rest
	// encryption this backend applies already removed.
	ReadBlock(n ufs.BlockNumber) ([]byte, error)
	// WriteBlock persists data to block n and reports the number of
	// bytes written. data must not exceed the block size.
	WriteBlock(n ufs.BlockNumber, data []byte) (int, error)
	// CommitMap re-serializes the block map into its own blocks.
	CommitMap() error
	// Map exposes the backend-owned block map. It is the single source
	// of truth for block typing and freedom.
	Map() *blockmap.BlockMap
}

func checkWrite(m *blockmap.BlockMap, n ufs.BlockNumber, data []byte) error {
	if uint64(n) >= m.BlockCount() {
		return ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	if len(data) > int(m.BlockSize()) {
		return ufs.NewError(ufs.CodeIOError, "data is larger than block size", nil)
	}
	return nil
}
