package fsio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/backend"
	"github.com/uberfoo/ufs/internal/crypt"
	"github.com/uberfoo/ufs/internal/manager"
	"github.com/uberfoo/ufs/internal/meta"
)

func testSetup(t *testing.T, count uint64) (*manager.Manager, *meta.Version) {
	t.Helper()
	store, err := backend.NewMemory("fsio", ufs.BlockSize512, count)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	mgr := manager.New(store, crypt.DeriveFSKey("pw", store.ID().Bytes()))
	root := ufs.NewRootFS("fsio")
	f := meta.NewFile(root.New("f"), root, ufs.NewUser("u"))
	return mgr, f.NewWriteVersion()
}

func TestMultiBlockWriteRead(t *testing.T) {
	mgr, v := testSetup(t, 100)
	data := bytes.Repeat([]byte{0x38}, 1536)

	n, err := Write(mgr, v, data, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 1536 {
		t.Fatalf("wrote %d bytes, want 1536", n)
	}
	if len(v.Blocks) != 3 {
		t.Fatalf("version has %d blocks, want 3", len(v.Blocks))
	}
	if v.Size != 1536 {
		t.Fatalf("version size = %d, want 1536", v.Size)
	}
	if !v.Dirty {
		t.Error("version not dirty after write")
	}

	got, err := Read(mgr, v, 0, 1536)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("multi-block round trip mismatch")
	}
}

func TestOffsetSeekRead(t *testing.T) {
	mgr, v := testSetup(t, 100)
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 256)
	}
	if _, err := Write(mgr, v, data, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(mgr, v, 1500, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range got {
		if want := byte((1500 + i) % 256); b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}

	// Reads that straddle a block boundary exactly.
	got, err = Read(mgr, v, 510, 4)
	if err != nil {
		t.Fatalf("Read across boundary: %v", err)
	}
	if !bytes.Equal(got, data[510:514]) {
		t.Fatalf("boundary read = %x, want %x", got, data[510:514])
	}
}

func TestIncrementalAppends(t *testing.T) {
	mgr, v := testSetup(t, 100)
	var want []byte
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 200)
		if _, err := Write(mgr, v, chunk, v.Size); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		want = append(want, chunk...)
	}
	// Each sub-block append consumes its own block.
	if len(v.Blocks) != 5 {
		t.Fatalf("version has %d blocks, want 5", len(v.Blocks))
	}
	got, err := Read(mgr, v, 0, uint32(len(want)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("appended data mismatch")
	}
	// Offsets within later, partially-filled blocks decrypt correctly.
	got, err = Read(mgr, v, 450, 100)
	if err != nil {
		t.Fatalf("Read at 450: %v", err)
	}
	if !bytes.Equal(got, want[450:550]) {
		t.Fatal("cross-partial-block read mismatch")
	}
}

func TestSparseWriteRejected(t *testing.T) {
	mgr, v := testSetup(t, 100)
	if _, err := Write(mgr, v, []byte("abc"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Write(mgr, v, []byte("later"), 1000); err == nil {
		t.Fatal("sparse write accepted; offsets beyond size must be rejected")
	}
}

func TestShortRead(t *testing.T) {
	mgr, v := testSetup(t, 100)
	if _, err := Write(mgr, v, []byte("abc"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(mgr, v, 0, 10); !errors.Is(err, ErrShortRead) {
		t.Fatalf("over-long read = %v, want ErrShortRead", err)
	}
	if _, err := Read(mgr, v, 100, 1); !errors.Is(err, ErrShortRead) {
		t.Fatalf("read past end = %v, want ErrShortRead", err)
	}
}

func TestNoFreeBlocksMidWrite(t *testing.T) {
	mgr, v := testSetup(t, 3) // block 0 map, two usable
	data := bytes.Repeat([]byte{0x01}, 1536)
	n, err := Write(mgr, v, data, 0)
	if !errors.Is(err, ufs.ErrNoFreeBlocks) {
		t.Fatalf("Write into full store = %v, want NoFreeBlocks", err)
	}
	// The blocks that did fit remain appended so the caller can free
	// space and retry the remainder.
	if n != 1024 || v.Size != 1024 || len(v.Blocks) != 2 {
		t.Fatalf("partial write state: n=%d size=%d blocks=%d", n, v.Size, len(v.Blocks))
	}
}
