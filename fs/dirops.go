package fs

import (
	"sort"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/meta"
)

// DirEntry is one listable name in a directory.
type DirEntry struct {
	Name  string
	ID    ufs.ID
	IsDir bool
	// Size is the latest version's size for files, zero for directories.
	Size uint64
	Mode uint16
}

// CreateDirectory creates a subdirectory under the directory identified by
// parentID and returns the new directory's id.
func (fs *FileSystem) CreateDirectory(parentID ufs.ID, name string) (ufs.ID, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.meta.Dir(parentID)
	if err != nil {
		return ufs.ID{}, err
	}
	if err := fs.checkAccess(parent.Owner, parent.Perms, ufs.OpWrite); err != nil {
		return ufs.ID{}, err
	}
	owner := fs.user
	if owner.IsZero() {
		owner = parent.Owner
	}
	sub, err := parent.NewSubdirectory(name, owner)
	if err != nil {
		return ufs.ID{}, err
	}
	if err := fs.commitMeta(); err != nil {
		return ufs.ID{}, err
	}
	return sub.ID, nil
}

// RemoveDirectory removes the named subdirectory of parentID. Directories
// holding anything beyond their two reserved children are refused; the
// bridge removes contents bottom-up.
func (fs *FileSystem) RemoveDirectory(parentID ufs.ID, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.meta.Dir(parentID)
	if err != nil {
		return err
	}
	e, ok := parent.Entries[name]
	if !ok || e.Dir == nil {
		return ufs.NewError(ufs.CodeNotFound, "no such directory: "+name, nil)
	}
	if err := fs.checkAccess(parent.Owner, parent.Perms, ufs.OpWrite); err != nil {
		return err
	}
	for childName := range e.Dir.Entries {
		if childName != meta.WasmDir && childName != meta.VersDir {
			return ufs.NewError(ufs.CodeIOError, "directory not empty: "+name, nil)
		}
	}
	if err := parent.RemoveDirectory(name); err != nil {
		return err
	}
	return fs.commitMeta()
}

// OpenDirectory returns a handle on the directory with the given id.
func (fs *FileSystem) OpenDirectory(id ufs.ID) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.meta.Dir(id); err != nil {
		return 0, err
	}
	h := fs.nextHandle()
	fs.openDirs[h] = id
	return h, nil
}

// CloseDirectory releases a directory handle.
func (fs *FileSystem) CloseDirectory(handle uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.openDirs[handle]; !ok {
		return ufs.NewError(ufs.CodeNotFound, "directory handle not open", nil)
	}
	delete(fs.openDirs, handle)
	return nil
}

// ListFiles returns the entries of an open directory, sorted by name so
// the bridge sees a deterministic order.
func (fs *FileSystem) ListFiles(handle uint64) ([]DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	id, ok := fs.openDirs[handle]
	if !ok {
		return nil, ufs.NewError(ufs.CodeNotFound, "directory handle not open", nil)
	}
	d, err := fs.meta.Dir(id)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(d.Entries))
	for name, e := range d.Entries {
		switch {
		case e.Dir != nil:
			out = append(out, DirEntry{Name: name, ID: e.Dir.ID, IsDir: true, Mode: e.Dir.Perms.Mode()})
		case e.File != nil:
			out = append(out, DirEntry{
				Name: name,
				ID:   e.File.ID,
				Size: e.File.Latest().Size,
				Mode: e.File.Perms.Mode(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// OpenSubDirectory resolves the named subdirectory of parentID to its id.
func (fs *FileSystem) OpenSubDirectory(parentID ufs.ID, name string) (ufs.ID, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	parent, err := fs.meta.Dir(parentID)
	if err != nil {
		return ufs.ID{}, err
	}
	e, ok := parent.Entries[name]
	if !ok || e.Dir == nil {
		return ufs.ID{}, ufs.NewError(ufs.CodeNotFound, "no such directory: "+name, nil)
	}
	return e.Dir.ID, nil
}

// SetPermissions updates the mode bits of the file or directory with the
// given id.
func (fs *FileSystem) SetPermissions(id ufs.ID, mode uint16) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if d := fs.meta.RootDir.LookupDir(id); d != nil {
		d.Perms = ufs.PermissionsFromMode(mode)
		return fs.commitMeta()
	}
	if f := fs.meta.RootDir.LookupFile(id); f != nil {
		f.Perms = ufs.PermissionsFromMode(mode)
		return fs.commitMeta()
	}
	return ufs.NewError(ufs.CodeNotFound, "no such id", nil)
}

// checkAccess enforces permissions relative to the authenticated user. An
// unauthenticated facade (no login yet) performs no checks; the bridge
// fronting it does.
func (fs *FileSystem) checkAccess(owner ufs.ID, perms ufs.Permissions, op ufs.AccessOp) error {
	if fs.user.IsZero() {
		return nil
	}
	rel := ufs.RelOther
	if owner == fs.user {
		rel = ufs.RelOwner
	}
	if !perms.Check(rel, op) {
		return ufs.NewError(ufs.CodeIOError, "permission denied", nil)
	}
	return nil
}
