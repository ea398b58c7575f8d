package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/blockmap"
	"github.com/uberfoo/ufs/internal/crypt"
)

// blockExt is the extension of every block file in a file-backed store.
const blockExt = ".ufsb"

// File stores blocks as regular files in a directory tree whose depth is
// derived from the block count: each hex digit of the block number, most
// significant first, names one level, with the final digit as the file
// stem. Block f03da2 in a sixteen-million-block store lives at
// f/0/3/d/a/2.ufsb.
//
// Everything written through this backend is encrypted with the
// filesystem key and the deterministic per-backend nonce, keyed to the
// block's position in the overall byte stream. That is what lets the store
// hold its own block map before any user has logged in.
type File struct {
	m     *blockmap.BlockMap
	root  string
	depth int
	key   [crypt.KeySize]byte
	nonce [crypt.NonceSize]byte
}

var _ Backend = (*File)(nil)

// treeDepth returns the number of hex digits used to address count blocks,
// never less than one.
func treeDepth(count uint64) int {
	depth := 1
	for span := uint64(16); span < count; span *= 16 {
		depth++
	}
	return depth
}

func blockPath(root string, depth int, n ufs.BlockNumber) string {
	digits := fmt.Sprintf("%0*x", depth, uint64(n))
	parts := make([]string, 0, depth+1)
	parts = append(parts, root)
	for _, d := range digits[:len(digits)-1] {
		parts = append(parts, string(d))
	}
	parts = append(parts, digits[len(digits)-1:]+blockExt)
	return filepath.Join(parts...)
}

// CreateFile initializes a new file-backed store rooted at path. The
// filesystem's identity is derived from the basename of path, the key from
// the password and that identity. Every block file is created up front so
// the on-disk geometry is fixed from the start, then the initial block map
// is encrypted and written at block 0.
func CreateFile(password, path string, size ufs.BlockSize, count uint64) (*File, error) {
	if !size.Valid() {
		return nil, xerrors.Errorf("file store: invalid block size %d", size)
	}
	if count < 2 {
		return nil, xerrors.New("file store: need at least two blocks")
	}
	id := ufs.NewRootFS(filepath.Base(path))
	s := &File{
		m:     blockmap.New(id, size, count),
		root:  path,
		depth: treeDepth(count),
		key:   crypt.DeriveFSKey(password, id.Bytes()),
		nonce: crypt.BackendNonce(id.Bytes()),
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, ufs.Wrap("file store: creating root", err)
	}
	log.Printf("file store: initializing %d blocks of %d bytes under %s (depth %d)", count, size, path, s.depth)

	// Touching hundreds of thousands of block files serially is the slow
	// part of mkufs; bound the fan-out to the machine rather than the
	// filesystem.
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.NumCPU() * 4)
	for n := uint64(0); n < count; n++ {
		n := n
		g.Go(func() error {
			p := blockPath(path, s.depth, ufs.BlockNumber(n))
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return err
			}
			return f.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ufs.Wrap("file store: creating block files", err)
	}

	if err := s.CommitMap(); err != nil {
		return nil, err
	}
	if err := syncDir(path); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile opens an existing file-backed store. The identity is implicit in
// the basename of path; the key is re-derived from the password. A wrong
// password garbles the block-map ciphertext and surfaces as BadData from
// the map deserialization.
func LoadFile(password, path string) (*File, error) {
	id := ufs.NewRootFS(filepath.Base(path))
	s := &File{
		root:  path,
		key:   crypt.DeriveFSKey(password, id.Bytes()),
		nonce: crypt.BackendNonce(id.Bytes()),
	}

	// The block size is implicit in the store; infer enough geometry to
	// read the map chain from the 0 block's file size alone. Map blocks
	// are always written full-length.
	fi, err := os.Stat(blockPath(path, 1, 0))
	if err != nil {
		// Deeper trees bury block 0 under zero-digit directories.
		for depth := 2; depth <= 16; depth++ {
			if fi, err = os.Stat(blockPath(path, depth, 0)); err == nil {
				break
			}
		}
		if err != nil {
			return nil, ufs.NewError(ufs.CodeNotFound, "file store: no block 0 under "+path, err)
		}
	}
	size := ufs.BlockSize(fi.Size())
	if !size.Valid() {
		return nil, ufs.NewError(ufs.CodeBadData, "file store: block 0 has no valid block size", nil)
	}

	bootstrap := func(n ufs.BlockNumber) ([]byte, error) {
		data, err := os.ReadFile(blockPathAnyDepth(path, n))
		if err != nil {
			return nil, ufs.Wrap("file store: reading block", err)
		}
		crypt.Decrypt(s.key, s.nonce, uint64(n)*uint64(size), data)
		return data, nil
	}
	m, err := blockmap.Deserialize(bootstrap)
	if err != nil {
		return nil, err
	}
	s.m = m
	s.depth = treeDepth(m.BlockCount())
	return s, nil
}

// blockPathAnyDepth locates a block file without knowing the tree depth, by
// probing increasing depths. Only the bootstrap path uses it; once the map
// is loaded the depth is known.
func blockPathAnyDepth(root string, n ufs.BlockNumber) string {
	for depth := 1; depth <= 16; depth++ {
		p := blockPath(root, depth, n)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return blockPath(root, 1, n)
}

// ID implements Backend.
func (s *File) ID() ufs.ID { return s.m.ID() }

// BlockSize implements Backend.
func (s *File) BlockSize() ufs.BlockSize { return s.m.BlockSize() }

// BlockCount implements Backend.
func (s *File) BlockCount() uint64 { return s.m.BlockCount() }

// Map implements Backend.
func (s *File) Map() *blockmap.BlockMap { return s.m }

// Root returns the store's root directory.
func (s *File) Root() string { return s.root }

// ReadBlock implements Backend.
func (s *File) ReadBlock(n ufs.BlockNumber) ([]byte, error) {
	if uint64(n) >= s.m.BlockCount() {
		return nil, ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	data, err := os.ReadFile(blockPath(s.root, s.depth, n))
	if err != nil {
		return nil, ufs.Wrap("file store: reading block", err)
	}
	crypt.Decrypt(s.key, s.nonce, uint64(n)*uint64(s.m.BlockSize()), data)
	return data, nil
}

// WriteBlock implements Backend. The block file is replaced atomically so a
// crash mid-write leaves the previous contents intact.
func (s *File) WriteBlock(n ufs.BlockNumber, data []byte) (int, error) {
	if err := checkWrite(s.m, n, data); err != nil {
		return 0, err
	}
	enc := append([]byte(nil), data...)
	crypt.Encrypt(s.key, s.nonce, uint64(n)*uint64(s.m.BlockSize()), enc)
	if err := renameio.WriteFile(blockPath(s.root, s.depth, n), enc, 0600); err != nil {
		return 0, ufs.Wrap("file store: writing block", err)
	}
	return len(data), nil
}

// CommitMap implements Backend.
func (s *File) CommitMap() error {
	return s.m.Serialize(func(n ufs.BlockNumber, data []byte) error {
		// Map blocks are padded to full length so the block size can be
		// inferred from block 0 when loading.
		padded := make([]byte, s.m.BlockSize())
		copy(padded, data)
		_, err := s.WriteBlock(n, padded)
		return err
	})
}

func syncDir(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return ufs.Wrap("file store: opening root for fsync", err)
	}
	defer unix.Close(fd)
	if err := unix.Fsync(fd); err != nil {
		return ufs.Wrap("file store: fsync root", err)
	}
	return nil
}
