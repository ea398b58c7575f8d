// Package manager sits above a block backend and provides the typed block
// operations everything else is built on: allocation from the free list,
// encrypted data-block writes with per-block hashing, verified reads, and
// wrapper-chain I/O for the metadata root.
package manager

import (
	"crypto/sha256"
	"fmt"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/backend"
	"github.com/uberfoo/ufs/internal/crypt"
)

// Manager owns a backend and its block map, plus the filesystem key used
// to encrypt data payloads above the backend. The key is read-only after
// mount.
type Manager struct {
	store backend.Backend
	key   [crypt.KeySize]byte
}

// New wraps a backend with the filesystem key derived on mount.
func New(store backend.Backend, key [crypt.KeySize]byte) *Manager {
	return &Manager{store: store, key: key}
}

// ID returns the filesystem identity.
func (m *Manager) ID() ufs.ID { return m.store.ID() }

// BlockSize returns the fixed block size.
func (m *Manager) BlockSize() ufs.BlockSize { return m.store.BlockSize() }

// BlockCount returns the total number of blocks.
func (m *Manager) BlockCount() uint64 { return m.store.BlockCount() }

// FreeBlockCount returns the number of blocks currently allocatable.
func (m *Manager) FreeBlockCount() uint64 { return m.store.Map().FreeBlockCount() }

// GetBlock returns the map record for block n.
func (m *Manager) GetBlock(n ufs.BlockNumber) (ufs.BlockRecord, error) {
	return m.store.Map().Get(n)
}

// RecycleBlock returns block n to the free pool.
func (m *Manager) RecycleBlock(n ufs.BlockNumber) error {
	return m.store.Map().Recycle(n)
}

// CommitMap re-serializes the block map into its own blocks. Call on clean
// shutdown at the latest; anything not committed is invisible to the next
// mount.
func (m *Manager) CommitMap() error {
	return m.store.CommitMap()
}

// Write allocates a fresh data block and fills it with up to one block's
// worth of data, encrypted with the given nonce at the given absolute
// offset in the logical stream the nonce belongs to. The returned record
// carries the ciphertext hash and the number of bytes consumed.
func (m *Manager) Write(nonce [crypt.NonceSize]byte, offset uint64, data []byte) (ufs.BlockRecord, error) {
	n, err := m.store.Map().PopFree(ufs.Data)
	if err != nil {
		return ufs.BlockRecord{}, err
	}
	end := len(data)
	if bs := int(m.store.BlockSize()); end > bs {
		end = bs
	}
	enc := append([]byte(nil), data[:end]...)
	crypt.Encrypt(m.key, nonce, offset, enc)

	rec := ufs.BlockRecord{
		Number:  n,
		Type:    ufs.Data,
		Hash:    sha256.Sum256(enc),
		Size:    uint32(end),
		HasHash: true,
	}
	if _, err := m.store.WriteBlock(n, enc); err != nil {
		// Put the block back rather than leaking it.
		m.store.Map().Recycle(n)
		return ufs.BlockRecord{}, err
	}
	if err := m.store.Map().SetRecord(rec); err != nil {
		return ufs.BlockRecord{}, err
	}
	return rec, nil
}

// Read fetches a data block, verifies its ciphertext hash against the map
// record, and decrypts it with the given nonce at the given absolute
// offset. The offset must equal the one the block was written with; for a
// file version's block list that is the sum of the sizes of the preceding
// blocks.
func (m *Manager) Read(nonce [crypt.NonceSize]byte, offset uint64, rec ufs.BlockRecord) ([]byte, error) {
	if !rec.HasHash {
		return nil, ufs.NewError(ufs.CodeBadData, "read of a never-written block", nil)
	}
	data, err := m.store.ReadBlock(rec.Number)
	if err != nil {
		return nil, err
	}
	if len(data) > int(rec.Size) {
		data = data[:rec.Size]
	}
	if sha256.Sum256(data) != rec.Hash {
		return nil, ufs.NewError(ufs.CodeHashMismatch, fmt.Sprintf("block %d: hash mismatch", rec.Number), nil)
	}
	crypt.Decrypt(m.key, nonce, offset, data)
	return data, nil
}

// ReadCiphertext fetches a block's stored payload without decrypting it,
// truncated to the written length. Consistency tooling uses it to verify
// the map's hashes without needing any per-version nonce.
func (m *Manager) ReadCiphertext(rec ufs.BlockRecord) ([]byte, error) {
	data, err := m.store.ReadBlock(rec.Number)
	if err != nil {
		return nil, err
	}
	if len(data) > int(rec.Size) {
		data = data[:rec.Size]
	}
	return data, nil
}
