package backend

import (
	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/blockmap"
)

// Memory is the in-memory block store used by tests and ephemeral mounts.
// Blocks live in a plain byte-slice array and nothing is encrypted at this
// layer; user data is still encrypted above it by the block manager.
type Memory struct {
	m      *blockmap.BlockMap
	blocks [][]byte
}

var _ Backend = (*Memory)(nil)

// NewMemory creates a fresh in-memory store for the given geometry and
// serializes the initial block map into it.
func NewMemory(name string, size ufs.BlockSize, count uint64) (*Memory, error) {
	m := blockmap.New(ufs.NewRootFS(name), size, count)
	s := &Memory{m: m, blocks: make([][]byte, count)}
	if err := s.CommitMap(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID implements Backend.
func (s *Memory) ID() ufs.ID { return s.m.ID() }

// BlockSize implements Backend.
func (s *Memory) BlockSize() ufs.BlockSize { return s.m.BlockSize() }

// BlockCount implements Backend.
func (s *Memory) BlockCount() uint64 { return s.m.BlockCount() }

// Map implements Backend.
func (s *Memory) Map() *blockmap.BlockMap { return s.m }

// ReadBlock implements Backend.
func (s *Memory) ReadBlock(n ufs.BlockNumber) ([]byte, error) {
	if uint64(n) >= s.m.BlockCount() {
		return nil, ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	return append([]byte(nil), s.blocks[n]...), nil
}

// WriteBlock implements Backend.
func (s *Memory) WriteBlock(n ufs.BlockNumber, data []byte) (int, error) {
	if err := checkWrite(s.m, n, data); err != nil {
		return 0, err
	}
	s.blocks[n] = append([]byte(nil), data...)
	return len(data), nil
}

// CommitMap implements Backend.
func (s *Memory) CommitMap() error {
	return s.m.Serialize(func(n ufs.BlockNumber, data []byte) error {
		_, err := s.WriteBlock(n, data)
		return err
	})
}
