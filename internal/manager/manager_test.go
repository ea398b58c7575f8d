package manager

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/backend"
	"github.com/uberfoo/ufs/internal/crypt"
)

func testManager(t *testing.T, count uint64) *Manager {
	t.Helper()
	store, err := backend.NewMemory("mgrtest", ufs.BlockSize512, count)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	key := crypt.DeriveFSKey("pw", store.ID().Bytes())
	return New(store, key)
}

func testNonce() [crypt.NonceSize]byte {
	var nonce [crypt.NonceSize]byte
	copy(nonce[:], []byte("abcdefghijklmnopqrstuvwx"))
	return nonce
}

func TestWriteReadRoundTrip(t *testing.T) {
	mgr := testManager(t, 4)
	nonce := testNonce()

	rec, err := mgr.Write(nonce, 0, []byte("abc"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.Size != 3 || rec.Type != ufs.Data || !rec.HasHash {
		t.Fatalf("record = %+v", rec)
	}
	got, err := mgr.Read(nonce, 0, rec)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("abc")) {
		t.Errorf("Read = %q, want \"abc\"", got)
	}
}

func TestWriteTruncatesToBlockSize(t *testing.T) {
	mgr := testManager(t, 4)
	data := bytes.Repeat([]byte{0x38}, 513)
	rec, err := mgr.Write(testNonce(), 0, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.Size != 512 {
		t.Fatalf("consumed %d bytes, want 512", rec.Size)
	}
}

func TestWriteNoFreeBlocks(t *testing.T) {
	mgr := testManager(t, 2)
	// Block 0 is the map; exhaust the single free block.
	if _, err := mgr.Write(testNonce(), 0, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, err := mgr.Write(testNonce(), 1, []byte("y"))
	if !errors.Is(err, ufs.ErrNoFreeBlocks) {
		t.Fatalf("Write with no free blocks = %v, want NoFreeBlocks", err)
	}
}

func TestReadWrongOffsetGarbles(t *testing.T) {
	mgr := testManager(t, 4)
	nonce := testNonce()
	rec, err := mgr.Write(nonce, 512, []byte("offset matters"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	// The hash is over ciphertext, so a read at the wrong offset still
	// validates but decrypts to garbage. The offset discipline is owned
	// by the file I/O layer; the manager just has to be deterministic.
	got, err := mgr.Read(nonce, 0, rec)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if bytes.Equal(got, []byte("offset matters")) {
		t.Error("read at wrong offset produced the plaintext; keystream is not offset-bound")
	}
	good, err := mgr.Read(nonce, 512, rec)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(good, []byte("offset matters")) {
		t.Errorf("Read at the right offset = %q", good)
	}
}

func TestHashMismatchOnCorruptBlock(t *testing.T) {
	root := filepath.Join(t.TempDir(), "corrupt")
	store, err := backend.CreateFile("pw", root, ufs.BlockSize512, 8)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	mgr := New(store, crypt.DeriveFSKey("pw", store.ID().Bytes()))

	rec, err := mgr.Write(testNonce(), 0, []byte("tamper with me"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Flip one ciphertext byte on disk. The store is 8 blocks, so the
	// tree is one level deep and the path is just the hex block number.
	path := filepath.Join(root, fmt.Sprintf("%x.ufsb", uint64(rec.Number)))
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading block file: %v", err)
	}
	raw[0] ^= 0xff
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("writing corrupted block file: %v", err)
	}

	_, err = mgr.Read(testNonce(), 0, rec)
	if !errors.Is(err, ufs.ErrHashMismatch) {
		t.Fatalf("Read of corrupted block = %v, want HashMismatch", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	mgr := testManager(t, 16)
	payload := bytes.Repeat([]byte("metadata "), 200) // 1800 bytes, needs 4 chunks

	start, err := mgr.CommitMetadata(payload)
	if err != nil {
		t.Fatalf("CommitMetadata: %v", err)
	}
	rec, err := mgr.GetBlock(start)
	if err != nil {
		t.Fatalf("GetBlock(%d): %v", start, err)
	}
	if rec.Type != ufs.Metadata {
		t.Errorf("start block type = %s, want Metadata", rec.Type)
	}
	got, err := mgr.ReadMetadata()
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("metadata round trip mismatch: %d bytes, want %d", len(got), len(payload))
	}
}

func TestMetadataRecommitReusesBlocks(t *testing.T) {
	mgr := testManager(t, 16)
	payload := bytes.Repeat([]byte("m"), 1000)
	if _, err := mgr.CommitMetadata(payload); err != nil {
		t.Fatalf("CommitMetadata: %v", err)
	}
	free := mgr.FreeBlockCount()
	for i := 0; i < 5; i++ {
		if _, err := mgr.CommitMetadata(payload); err != nil {
			t.Fatalf("CommitMetadata %d: %v", i, err)
		}
	}
	if got := mgr.FreeBlockCount(); got != free {
		t.Fatalf("free count after recommits = %d, want %d (stable-size metadata must not leak blocks)", got, free)
	}
}

func TestSweepReclaimsOrphans(t *testing.T) {
	mgr := testManager(t, 16)
	if _, err := mgr.CommitMetadata([]byte("root record")); err != nil {
		t.Fatalf("CommitMetadata: %v", err)
	}
	keep, err := mgr.Write(testNonce(), 0, []byte("reachable"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := mgr.Write(testNonce(), 0, []byte("orphan one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := mgr.Write(testNonce(), 0, []byte("orphan two")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	free := mgr.FreeBlockCount()
	swept, err := mgr.Sweep(map[ufs.BlockNumber]bool{keep.Number: true})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 2 {
		t.Fatalf("Sweep recycled %d blocks, want 2", swept)
	}
	if got := mgr.FreeBlockCount(); got != free+2 {
		t.Fatalf("free count after sweep = %d, want %d", got, free+2)
	}
	rec, err := mgr.GetBlock(keep.Number)
	if err != nil || rec.Type != ufs.Data {
		t.Fatalf("reachable block = (%+v, %v), want intact Data", rec, err)
	}
	if errs := mgr.CheckMap(); len(errs) != 0 {
		t.Fatalf("CheckMap after sweep: %v", errs)
	}
}
