// Package blockmap maintains the authoritative mapping from block number to
// block role: which blocks are free, which carry file data, which carry the
// metadata root, and which carry the block map itself. The map is the sole
// bootstrap datum of a filesystem; it is serialized as a wrapper chain
// starting at block 0 and is self-describing, because the number of blocks
// the map occupies depends on the size of the map.
package blockmap

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
)

// BlockMap is the current state of every block in the filesystem, plus the
// identity and geometry fixed at creation time.
type BlockMap struct {
	id        ufs.ID
	size      ufs.BlockSize
	count     uint64
	rootBlock ufs.BlockNumber
	hasRoot   bool

	// mapBlocks lists the blocks holding the serialized map, in chain
	// order. Block 0 is always first.
	mapBlocks []ufs.BlockNumber

	// freeBlocks is a FIFO: allocations pop from the front, recycled
	// blocks are pushed onto the back.
	freeBlocks []ufs.BlockNumber

	blocks []ufs.BlockRecord
}

// New creates the map for a freshly initialized filesystem: block 0 holds
// the start of the map, every other block is free.
func New(id ufs.ID, size ufs.BlockSize, count uint64) *BlockMap {
	m := &BlockMap{
		id:        id,
		size:      size,
		count:     count,
		mapBlocks: []ufs.BlockNumber{0},
		blocks:    make([]ufs.BlockRecord, count),
	}
	for n := uint64(0); n < count; n++ {
		m.blocks[n].Number = ufs.BlockNumber(n)
	}
	m.blocks[0].Type = ufs.Map
	m.freeBlocks = make([]ufs.BlockNumber, 0, count-1)
	for n := uint64(1); n < count; n++ {
		m.freeBlocks = append(m.freeBlocks, ufs.BlockNumber(n))
	}
	return m
}

// ID returns the filesystem identity recorded in the map.
func (m *BlockMap) ID() ufs.ID { return m.id }

// BlockSize returns the fixed block size.
func (m *BlockMap) BlockSize() ufs.BlockSize { return m.size }

// BlockCount returns the total number of blocks.
func (m *BlockMap) BlockCount() uint64 { return m.count }

// FreeBlockCount returns the number of blocks currently on the free list.
func (m *BlockMap) FreeBlockCount() uint64 { return uint64(len(m.freeBlocks)) }

// RootBlock returns the starting block of the metadata root chain, if one
// has been written.
func (m *BlockMap) RootBlock() (ufs.BlockNumber, bool) { return m.rootBlock, m.hasRoot }

// SetRootBlock records the starting block of the metadata root chain.
func (m *BlockMap) SetRootBlock(n ufs.BlockNumber) {
	m.rootBlock = n
	m.hasRoot = true
}

// MapBlocks returns the blocks holding the serialized map, in chain order.
func (m *BlockMap) MapBlocks() []ufs.BlockNumber { return m.mapBlocks }

// Get returns the record for block n.
func (m *BlockMap) Get(n ufs.BlockNumber) (ufs.BlockRecord, error) {
	if uint64(n) >= m.count {
		return ufs.BlockRecord{}, ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	return m.blocks[n], nil
}

// SetRecord overwrites the record for block n. The caller is responsible for
// free-list consistency; allocation paths should use PopFree/Recycle.
func (m *BlockMap) SetRecord(rec ufs.BlockRecord) error {
	if uint64(rec.Number) >= m.count {
		return ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	m.blocks[rec.Number] = rec
	return nil
}

// PopFree removes the oldest block from the free list and tags it with typ.
func (m *BlockMap) PopFree(typ ufs.BlockType) (ufs.BlockNumber, error) {
	if len(m.freeBlocks) == 0 {
		return 0, ufs.NewError(ufs.CodeNoFreeBlocks, "no free blocks", nil)
	}
	n := m.freeBlocks[0]
	m.freeBlocks = m.freeBlocks[1:]
	m.blocks[n].Type = typ
	return n, nil
}

// Recycle returns block n to the free list, clearing its record.
func (m *BlockMap) Recycle(n ufs.BlockNumber) error {
	if uint64(n) >= m.count {
		return ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	if m.blocks[n].Type == ufs.Free {
		return nil
	}
	m.blocks[n] = ufs.BlockRecord{Number: n}
	m.freeBlocks = append(m.freeBlocks, n)
	return nil
}

// MarshalBinary encodes the map in the canonical on-disk form: little-endian
// fixed-width integers, length prefixes on the variable-length fields, and a
// 1-byte option tag ahead of optional values. Block records omit hash and
// size when the block has never been written, which keeps the serialized map
// small for mostly-free filesystems.
func (m *BlockMap) MarshalBinary() []byte {
	var buf []byte
	var scratch [8]byte
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		buf = append(buf, scratch[:4]...)
	}

	id := m.id.Bytes()
	buf = append(buf, id[:]...)
	put32(uint32(m.size))
	put64(m.count)
	if m.hasRoot {
		buf = append(buf, 1)
		put64(uint64(m.rootBlock))
	} else {
		buf = append(buf, 0)
	}
	put64(uint64(len(m.mapBlocks)))
	for _, n := range m.mapBlocks {
		put64(uint64(n))
	}
	put64(uint64(len(m.freeBlocks)))
	for _, n := range m.freeBlocks {
		put64(uint64(n))
	}
	put64(uint64(len(m.blocks)))
	for _, rec := range m.blocks {
		put64(uint64(rec.Number))
		buf = append(buf, byte(rec.Type))
		if rec.HasHash {
			buf = append(buf, 1)
			buf = append(buf, rec.Hash[:]...)
			put32(rec.Size)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// UnmarshalBinary decodes the canonical form. Any structural inconsistency
// is reported as BadData; a wrong password presents here as garbage input,
// so this is also the password-mismatch indicator on load.
func UnmarshalBinary(b []byte) (*BlockMap, error) {
	bad := func(what string) error {
		return ufs.NewError(ufs.CodeBadData, "block map: "+what, nil)
	}
	take := func(n int) ([]byte, bool) {
		if len(b) < n {
			return nil, false
		}
		out := b[:n]
		b = b[n:]
		return out, true
	}
	take64 := func() (uint64, bool) {
		raw, ok := take(8)
		if !ok {
			return 0, false
		}
		return binary.LittleEndian.Uint64(raw), true
	}

	m := &BlockMap{}
	raw, ok := take(16)
	if !ok {
		return nil, bad("truncated id")
	}
	var idBytes [16]byte
	copy(idBytes[:], raw)
	m.id = ufs.IDFromBytes(idBytes)

	raw, ok = take(4)
	if !ok {
		return nil, bad("truncated block size")
	}
	m.size = ufs.BlockSize(binary.LittleEndian.Uint32(raw))
	if !m.size.Valid() {
		return nil, bad("invalid block size")
	}
	if m.count, ok = take64(); !ok {
		return nil, bad("truncated block count")
	}

	raw, ok = take(1)
	if !ok {
		return nil, bad("truncated root tag")
	}
	switch raw[0] {
	case 0:
	case 1:
		v, ok := take64()
		if !ok {
			return nil, bad("truncated root block")
		}
		m.rootBlock, m.hasRoot = ufs.BlockNumber(v), true
	default:
		return nil, bad("invalid root tag")
	}

	n, ok := take64()
	if !ok || n == 0 || n > m.count {
		return nil, bad("invalid map block list")
	}
	m.mapBlocks = make([]ufs.BlockNumber, n)
	for i := range m.mapBlocks {
		v, ok := take64()
		if !ok {
			return nil, bad("truncated map block list")
		}
		m.mapBlocks[i] = ufs.BlockNumber(v)
	}

	if n, ok = take64(); !ok || n > m.count {
		return nil, bad("invalid free list")
	}
	m.freeBlocks = make([]ufs.BlockNumber, n)
	for i := range m.freeBlocks {
		v, ok := take64()
		if !ok {
			return nil, bad("truncated free list")
		}
		m.freeBlocks[i] = ufs.BlockNumber(v)
	}

	if n, ok = take64(); !ok || n != m.count {
		return nil, bad("block record count disagrees with block count")
	}
	m.blocks = make([]ufs.BlockRecord, n)
	for i := range m.blocks {
		v, ok := take64()
		if !ok {
			return nil, bad("truncated block record")
		}
		rec := ufs.BlockRecord{Number: ufs.BlockNumber(v)}
		raw, ok = take(2)
		if !ok {
			return nil, bad("truncated block record")
		}
		rec.Type = ufs.BlockType(raw[0])
		if rec.Type > ufs.Metadata {
			return nil, bad("invalid block type")
		}
		switch raw[1] {
		case 0:
		case 1:
			raw, ok = take(36)
			if !ok {
				return nil, bad("truncated block hash")
			}
			rec.HasHash = true
			copy(rec.Hash[:], raw[:32])
			rec.Size = binary.LittleEndian.Uint32(raw[32:])
		default:
			return nil, bad("invalid hash tag")
		}
		m.blocks[i] = rec
	}
	if len(b) != 0 {
		return nil, bad("trailing bytes")
	}
	return m, nil
}

// Validate checks the structural invariants of the map: free-list agreement
// with block types, map-block typing, and root-block typing. It returns the
// violations found rather than failing on the first, so consistency tooling
// can report all of them at once.
func (m *BlockMap) Validate() []error {
	var errs []error
	free := make(map[ufs.BlockNumber]bool, len(m.freeBlocks))
	for _, n := range m.freeBlocks {
		free[n] = true
	}
	for _, rec := range m.blocks {
		if (rec.Type == ufs.Free) != free[rec.Number] {
			errs = append(errs, xerrors.Errorf("block %d: type %s disagrees with free list", rec.Number, rec.Type))
		}
	}
	if len(m.mapBlocks) == 0 {
		errs = append(errs, xerrors.New("empty map block list"))
	}
	for _, n := range m.mapBlocks {
		if uint64(n) >= m.count || m.blocks[n].Type != ufs.Map {
			errs = append(errs, xerrors.Errorf("map block %d is not tagged Map", n))
		}
	}
	if m.hasRoot {
		if uint64(m.rootBlock) >= m.count || m.blocks[m.rootBlock].Type != ufs.Metadata {
			errs = append(errs, xerrors.Errorf("root block %d is not tagged Metadata", m.rootBlock))
		}
	}
	return errs
}
