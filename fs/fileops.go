package fs

import (
	"path"
	"strings"
	"time"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/fsio"
	"github.com/uberfoo/ufs/internal/meta"
)

// CreateFile creates a file under parentID and returns a write-mode handle
// on it together with its id.
func (fs *FileSystem) CreateFile(parentID ufs.ID, name string) (uint64, ufs.ID, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.meta.Dir(parentID)
	if err != nil {
		return 0, ufs.ID{}, err
	}
	if err := fs.checkAccess(parent.Owner, parent.Perms, ufs.OpWrite); err != nil {
		return 0, ufs.ID{}, err
	}
	f, err := parent.NewFile(name)
	if err != nil {
		return 0, ufs.ID{}, err
	}
	if err := fs.commitMeta(); err != nil {
		return 0, ufs.ID{}, err
	}
	h := fs.nextHandle()
	fs.openFiles[h] = &openFile{fileID: f.ID, mode: Write, version: f.NewWriteVersion()}
	return h, f.ID, nil
}

// OpenFile opens the file with the given id. A read-only open works
// against a snapshot of the latest committed version; a write-mode open
// works against a freshly minted version that becomes the next committed
// one on close, if anything was written.
func (fs *FileSystem) OpenFile(id ufs.ID, mode OpenMode) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.meta.File(id)
	if err != nil {
		return 0, err
	}
	op := ufs.OpRead
	if mode != Read {
		op = ufs.OpWrite
	}
	if err := fs.checkAccess(f.Owner, f.Perms, op); err != nil {
		return 0, err
	}

	of := &openFile{fileID: id, mode: mode}
	switch mode {
	case Read:
		of.version = f.Latest().Clone()
		of.version.Access = time.Now().UTC()
	default:
		of.version = f.NewWriteVersion()
	}
	h := fs.nextHandle()
	fs.openFiles[h] = of
	return h, nil
}

// CloseFile commits the open version if it is dirty and persists the
// metadata root. Close is the commit point: a write-mode open abandoned
// without it leaves its blocks unreferenced until the next sweep.
func (fs *FileSystem) CloseFile(handle uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	of, ok := fs.openFiles[handle]
	if !ok {
		return ufs.NewError(ufs.CodeNotFound, "file handle not open", nil)
	}
	delete(fs.openFiles, handle)
	if !of.version.Dirty {
		return nil
	}
	f, err := fs.meta.File(of.fileID)
	if err != nil {
		return err
	}
	f.Commit(of.version)

	// A program landing in a .wasm directory gets a grant entry so the
	// external runtime knows it may be dispatched filesystem events.
	if dir, derr := fs.meta.Dir(f.DirID); derr == nil && dir.WasmDir {
		if p, perr := fs.meta.PathForFile(f.ID); perr == nil && strings.HasSuffix(path.Base(p), meta.WasmExt) {
			fs.meta.WasmGrants[p] = f.Perms
		}
	}
	return fs.commitMeta()
}

// WriteFile appends data to an open file at the given offset. Writes must
// be sequential; offsets beyond the current size are rejected rather than
// zero-filled.
func (fs *FileSystem) WriteFile(handle uint64, data []byte, offset uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	of, ok := fs.openFiles[handle]
	if !ok {
		return 0, ufs.NewError(ufs.CodeNotFound, "file handle not open", nil)
	}
	if of.mode == Read {
		return 0, ufs.NewError(ufs.CodeIOError, "handle not open for writing", nil)
	}
	return fsio.Write(fs.mgr, of.version, data, offset)
}

// ReadFile returns size bytes from an open file starting at offset.
func (fs *FileSystem) ReadFile(handle uint64, offset uint64, size uint32) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	of, ok := fs.openFiles[handle]
	if !ok {
		return nil, ufs.NewError(ufs.CodeNotFound, "file handle not open", nil)
	}
	if of.mode == Write {
		return nil, ufs.NewError(ufs.CodeIOError, "handle not open for reading", nil)
	}
	return fsio.Read(fs.mgr, of.version, offset, size)
}

// GetFileSize returns the logical size of an open file's version.
func (fs *FileSystem) GetFileSize(handle uint64) (uint64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	of, ok := fs.openFiles[handle]
	if !ok {
		return 0, ufs.NewError(ufs.CodeNotFound, "file handle not open", nil)
	}
	return of.version.Size, nil
}

// RemoveFile removes the named file under parentID and recycles every
// block owned by any of its versions.
func (fs *FileSystem) RemoveFile(parentID ufs.ID, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.meta.Dir(parentID)
	if err != nil {
		return err
	}
	if err := fs.checkAccess(parent.Owner, parent.Perms, ufs.OpWrite); err != nil {
		return err
	}
	blocks, err := parent.RemoveFile(name)
	if err != nil {
		return err
	}
	for _, n := range blocks {
		if err := fs.mgr.RecycleBlock(n); err != nil {
			return err
		}
	}
	return fs.commitMeta()
}
