package ufs

import "fmt"

// BlockSize is one of the fixed, enumerated block sizes a filesystem may be
// created with. It is fixed for the lifetime of the filesystem.
type BlockSize uint32

// The block sizes a filesystem may be created with.
const (
	BlockSize512  BlockSize = 512
	BlockSize1024 BlockSize = 1024
	BlockSize2048 BlockSize = 2048
)

// Valid reports whether size is one of the enumerated block sizes.
func (s BlockSize) Valid() bool {
	switch s {
	case BlockSize512, BlockSize1024, BlockSize2048:
		return true
	default:
		return false
	}
}

func (s BlockSize) String() string {
	return fmt.Sprintf("%d", uint32(s))
}

// BlockNumber indexes a single block in the flat array [0, BlockCount).
type BlockNumber uint64

// BlockType tags the role a block is currently playing. Every block has
// exactly one type at any time.
type BlockType uint8

// The block type tags.
const (
	Free BlockType = iota
	Data
	Map
	Metadata
)

func (t BlockType) String() string {
	switch t {
	case Free:
		return "Free"
	case Data:
		return "Data"
	case Map:
		return "Map"
	case Metadata:
		return "Metadata"
	default:
		return fmt.Sprintf("BlockType(%d)", uint8(t))
	}
}

// BlockRecord is the map's bookkeeping entry for one block: its current
// type, and — once written — the ciphertext hash and length used to detect
// corruption on read.
type BlockRecord struct {
	Number BlockNumber
	Type   BlockType
	Hash   [32]byte
	Size   uint32
	// HasHash distinguishes a block that has never been written (no hash
	// recorded yet) from one whose payload happens to hash to the zero
	// value.
	HasHash bool
}
