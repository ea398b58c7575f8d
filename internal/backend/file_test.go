package backend

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/uberfoo/ufs"
)

func TestTreeDepth(t *testing.T) {
	for _, tt := range []struct {
		count uint64
		want  int
	}{
		{2, 1},
		{16, 1},
		{17, 2},
		{256, 2},
		{257, 3},
		{1 << 20, 5},
	} {
		if got := treeDepth(tt.count); got != tt.want {
			t.Errorf("treeDepth(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestBlockPath(t *testing.T) {
	for _, tt := range []struct {
		depth int
		n     ufs.BlockNumber
		want  string
	}{
		{1, 0x5, "root/5.ufsb"},
		{2, 0x5, "root/0/5.ufsb"},
		{2, 0x63, "root/6/3.ufsb"},
		{6, 0xf03da2, "root/f/0/3/d/a/2.ufsb"},
	} {
		if got := blockPath("root", tt.depth, tt.n); got != filepath.FromSlash(tt.want) {
			t.Errorf("blockPath(%d, %#x) = %q, want %q", tt.depth, tt.n, got, tt.want)
		}
	}
}

func TestFileStoreCreateLoad(t *testing.T) {
	root := filepath.Join(t.TempDir(), "teststore")
	s, err := CreateFile("hunter2", root, ufs.BlockSize512, 20)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if s.ID() != ufs.NewRootFS("teststore") {
		t.Errorf("id = %s, want the id derived from the root basename", s.ID())
	}

	// A write through the raw backend round-trips, and the ciphertext on
	// disk is not the plaintext.
	n, err := s.Map().PopFree(ufs.Data)
	if err != nil {
		t.Fatalf("PopFree: %v", err)
	}
	plain := []byte("file store payload")
	if _, err := s.WriteBlock(n, plain); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	onDisk, err := os.ReadFile(blockPath(root, s.depth, n))
	if err != nil {
		t.Fatalf("reading block file: %v", err)
	}
	if bytes.Equal(onDisk, plain) {
		t.Error("block file holds plaintext")
	}
	got, err := s.ReadBlock(n)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("ReadBlock = %q, want %q", got, plain)
	}

	if err := s.CommitMap(); err != nil {
		t.Fatalf("CommitMap: %v", err)
	}
	loaded, err := LoadFile("hunter2", root)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.ID() != s.ID() || loaded.BlockCount() != 20 || loaded.BlockSize() != ufs.BlockSize512 {
		t.Errorf("loaded geometry differs: id=%s count=%d size=%d", loaded.ID(), loaded.BlockCount(), loaded.BlockSize())
	}
	rec, err := loaded.Map().Get(n)
	if err != nil {
		t.Fatalf("Get(%d): %v", n, err)
	}
	if rec.Type != ufs.Data {
		t.Errorf("block %d type after reload = %s, want Data", n, rec.Type)
	}
}

func TestFileStoreWrongPassword(t *testing.T) {
	root := filepath.Join(t.TempDir(), "secretstore")
	if _, err := CreateFile("foo", root, ufs.BlockSize512, 4); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	_, err := LoadFile("bar", root)
	if !errors.Is(err, ufs.ErrBadData) {
		t.Fatalf("LoadFile with wrong password = %v, want BadData", err)
	}
}

func TestFileStoreBounds(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bounds")
	s, err := CreateFile("pw", root, ufs.BlockSize512, 4)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := s.ReadBlock(4); !errors.Is(err, ufs.ErrNoSuchBlock) {
		t.Errorf("ReadBlock(4) = %v, want NoSuchBlock", err)
	}
	if _, err := s.WriteBlock(99, []byte("x")); !errors.Is(err, ufs.ErrNoSuchBlock) {
		t.Errorf("WriteBlock(99) = %v, want NoSuchBlock", err)
	}
	if _, err := s.WriteBlock(1, make([]byte, 513)); err == nil {
		t.Error("WriteBlock of oversized data succeeded")
	}
}
