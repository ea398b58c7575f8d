package fs

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/uberfoo/ufs"
)

// Check runs the consistency pass: block-map structural invariants,
// directory-tree invariants, and a verification of every written block's
// ciphertext against the hash recorded in the map. It reports violations
// instead of failing on the first, so an operator sees the full damage at
// once. Block verification fans out, bounded to the machine; reading
// ciphertext and comparing hashes needs no per-version nonces.
func (fs *FileSystem) Check(ctx context.Context) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var violations []string
	for _, err := range fs.mgr.CheckMap() {
		violations = append(violations, err.Error())
	}
	for _, err := range fs.meta.ValidateTree() {
		violations = append(violations, err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	results := make(chan string, int(fs.mgr.BlockCount()))
	for n := uint64(0); n < fs.mgr.BlockCount(); n++ {
		rec, err := fs.mgr.GetBlock(ufs.BlockNumber(n))
		if err != nil {
			return nil, err
		}
		if rec.Type != ufs.Data || !rec.HasHash {
			continue
		}
		blockRec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := fs.mgr.ReadCiphertext(blockRec)
			if err != nil {
				results <- fmt.Sprintf("block %d: %v", blockRec.Number, err)
				return nil
			}
			if sha256.Sum256(data) != blockRec.Hash {
				results <- fmt.Sprintf("block %d: ciphertext hash mismatch", blockRec.Number)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for v := range results {
		violations = append(violations, v)
	}
	return violations, nil
}

// Sweep recycles every block not reachable from the metadata tree: the
// blocks orphaned by write-mode opens that were abandoned before close.
// It runs only on demand.
func (fs *FileSystem) Sweep() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mgr.Sweep(fs.meta.ReachableBlocks())
}
