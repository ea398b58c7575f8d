// Package fsio implements streaming reads and appends over a file
// version's block list. Writes go through the block manager one block at a
// time, each encrypted with the version's nonce at its absolute offset in
// the logical file stream; reads walk the block list to the starting
// block and decrypt with the same (nonce, offset) pairs.
//
// The central invariant: the offset used to decrypt any block equals the
// sum of the sizes of the blocks preceding it in the version's list.
package fsio

import (
	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/manager"
	"github.com/uberfoo/ufs/internal/meta"
)

// ErrShortRead reports a read that ran off the end of the version's block
// list before size bytes were produced.
var ErrShortRead = ufs.NewError(ufs.CodeIOError, "short read", nil)

// Write appends data to the version at the given offset. Sparse extension
// is not supported: offset must equal the version's current size, which the
// external bridge guarantees by writing with monotonically increasing
// offsets. On NoFreeBlocks the blocks already written stay appended, so the
// caller may free space and retry the remainder.
func Write(mgr *manager.Manager, v *meta.Version, data []byte, offset uint64) (int, error) {
	if offset != v.Size {
		return 0, ufs.NewError(ufs.CodeIOError, "non-sequential write offset", nil)
	}
	nonce := v.Nonce()
	written := 0
	for written < len(data) {
		rec, err := mgr.Write(nonce, offset+uint64(written), data[written:])
		if err != nil {
			return written, err
		}
		v.AppendBlock(rec)
		written += int(rec.Size)
	}
	return written, nil
}

// Read returns size bytes of the version's contents starting at offset.
func Read(mgr *manager.Manager, v *meta.Version, offset uint64, size uint32) ([]byte, error) {
	nonce := v.Nonce()

	// Walk the block list to the first block containing offset, tracking
	// the total length skipped: it is both the decryption offset of the
	// current block and the base for every block after it.
	idx := 0
	var skipped uint64
	for idx < len(v.Blocks) {
		rec, err := mgr.GetBlock(v.Blocks[idx])
		if err != nil {
			return nil, err
		}
		if skipped+uint64(rec.Size) > offset {
			break
		}
		skipped += uint64(rec.Size)
		idx++
	}

	out := make([]byte, size)
	var read uint32
	blockOffset := uint32(offset - skipped)
	for read < size {
		if idx >= len(v.Blocks) {
			return nil, ErrShortRead
		}
		rec, err := mgr.GetBlock(v.Blocks[idx])
		if err != nil {
			return nil, err
		}
		data, err := mgr.Read(nonce, skipped, rec)
		if err != nil {
			return nil, err
		}
		if blockOffset > uint32(len(data)) {
			return nil, ErrShortRead
		}
		n := size - read
		if avail := uint32(len(data)) - blockOffset; n > avail {
			n = avail
		}
		copy(out[read:read+n], data[blockOffset:blockOffset+n])
		read += n
		skipped += uint64(len(data))
		blockOffset = 0
		idx++
	}
	return out, nil
}
