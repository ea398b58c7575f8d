package blockmap

import (
	"log"

	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/wrapper"
)

// Serialize writes the map to the store as a wrapper chain anchored at block
// 0, reusing the blocks of the previous serialization and growing the chain
// from the free list when the map no longer fits.
//
// Converting a free block to a map block changes the map being serialized,
// so the sizing runs as a fixed-point loop: allocate until the chunk count
// is covered, re-serialize, repeat. The loop terminates because every
// iteration strictly shrinks the free list; the block count is an explicit
// defensive bound on top of that argument.
func (m *BlockMap) Serialize(write func(ufs.BlockNumber, []byte) error) error {
	data := m.MarshalBinary()
	need := wrapper.Chunks(len(data), m.size)

	for iter := uint64(0); need > len(m.mapBlocks); iter++ {
		if iter > m.count {
			return xerrors.New("block map: serialize did not reach a fixed point")
		}
		for need > len(m.mapBlocks) {
			n, err := m.PopFree(ufs.Map)
			if err != nil {
				return xerrors.Errorf("block map: growing map chain: %w", err)
			}
			m.mapBlocks = append(m.mapBlocks, n)
		}
		// The free list and map block list just changed; size again
		// against the new serialized form.
		data = m.MarshalBinary()
		need = wrapper.Chunks(len(data), m.size)
	}

	log.Printf("block map: writing %d bytes across %d of %d map blocks", len(data), need, len(m.mapBlocks))
	return wrapper.WriteChain(write, m.mapBlocks, m.size, data)
}

// Deserialize reads a map from the store, starting from the chain head at
// block 0. Each chunk's payload hash must validate; a failure here on an
// otherwise intact store means the read-side key (and therefore the
// password) is wrong.
func Deserialize(read func(ufs.BlockNumber) ([]byte, error)) (*BlockMap, error) {
	data, err := wrapper.ReadChain(read, 0)
	if err != nil {
		return nil, ufs.NewError(ufs.CodeBadData, "block map: reading chain", err)
	}
	m, err := UnmarshalBinary(data)
	if err != nil {
		return nil, err
	}
	log.Printf("block map: loaded id=%s size=%d count=%d free=%d", m.id, m.size, m.count, len(m.freeBlocks))
	return m, nil
}
