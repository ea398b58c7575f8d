package manager

import (
	"log"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/wrapper"
)

// CommitMetadata replaces the metadata root chain with a fresh chain
// carrying data, and points the block map's root block at it. The previous
// chain's blocks are recycled first, so a metadata root whose size is
// stable costs no net free blocks per commit.
//
// The old chain is released by type rather than by walking pointers: the
// metadata root is the only Metadata-typed chain in the filesystem, so
// every Metadata block belongs to it.
func (m *Manager) CommitMetadata(data []byte) (ufs.BlockNumber, error) {
	bm := m.store.Map()
	for n := uint64(0); n < bm.BlockCount(); n++ {
		rec, err := bm.Get(ufs.BlockNumber(n))
		if err != nil {
			return 0, err
		}
		if rec.Type == ufs.Metadata {
			if err := bm.Recycle(rec.Number); err != nil {
				return 0, err
			}
		}
	}

	need := wrapper.Chunks(len(data), m.store.BlockSize())
	blocks := make([]ufs.BlockNumber, 0, need)
	for len(blocks) < need {
		n, err := bm.PopFree(ufs.Metadata)
		if err != nil {
			return 0, err
		}
		blocks = append(blocks, n)
	}

	err := wrapper.WriteChain(func(n ufs.BlockNumber, chunk []byte) error {
		_, werr := m.store.WriteBlock(n, chunk)
		return werr
	}, blocks, m.store.BlockSize(), data)
	if err != nil {
		return 0, err
	}

	bm.SetRootBlock(blocks[0])
	log.Printf("manager: committed %d metadata bytes across %d blocks from %d", len(data), need, blocks[0])
	return blocks[0], nil
}

// ReadMetadata loads the metadata root chain anchored at the block map's
// root block. A filesystem that has never committed metadata has none.
func (m *Manager) ReadMetadata() ([]byte, error) {
	start, ok := m.store.Map().RootBlock()
	if !ok {
		return nil, ufs.NewError(ufs.CodeNotFound, "no metadata root committed", nil)
	}
	data, err := wrapper.ReadChain(m.store.ReadBlock, start)
	if err != nil {
		return nil, ufs.NewError(ufs.CodeBadData, "manager: reading metadata root", err)
	}
	return data, nil
}

// Sweep recycles every data or metadata block not named in reachable and
// not the current metadata root chain. It is an explicit, on-demand pass
// for reclaiming blocks orphaned by an abandoned write; nothing runs it
// implicitly.
func (m *Manager) Sweep(reachable map[ufs.BlockNumber]bool) (int, error) {
	bm := m.store.Map()
	rootChain := make(map[ufs.BlockNumber]bool)
	if start, ok := bm.RootBlock(); ok {
		// Walk the live chain so its blocks survive the sweep.
		err := func() error {
			n := start
			for {
				raw, err := m.store.ReadBlock(n)
				if err != nil {
					return err
				}
				w, err := wrapper.Decode(raw)
				if err != nil {
					return err
				}
				rootChain[n] = true
				if !w.HasNext {
					return nil
				}
				n = w.Next
			}
		}()
		if err != nil {
			return 0, err
		}
	}

	swept := 0
	for n := uint64(0); n < bm.BlockCount(); n++ {
		rec, err := bm.Get(ufs.BlockNumber(n))
		if err != nil {
			return swept, err
		}
		switch rec.Type {
		case ufs.Data:
			if !reachable[rec.Number] {
				if err := bm.Recycle(rec.Number); err != nil {
					return swept, err
				}
				swept++
			}
		case ufs.Metadata:
			if !rootChain[rec.Number] {
				if err := bm.Recycle(rec.Number); err != nil {
					return swept, err
				}
				swept++
			}
		}
	}
	if swept > 0 {
		log.Printf("manager: sweep recycled %d blocks", swept)
	}
	return swept, nil
}

// CheckMap returns the block map's structural violations, if any.
func (m *Manager) CheckMap() []error {
	return m.store.Map().Validate()
}
