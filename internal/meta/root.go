package meta

import (
	"path"
	"sort"

	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/users"
)

// Root is the top-level metadata record: the user table, the directory
// tree, and the permission grants for wasm programs, serialized together
// as one wrapper chain anchored at the block map's root block.
type Root struct {
	Users      users.Directory
	RootDir    *Directory
	WasmGrants map[string]ufs.Permissions
}

// NewRoot builds the metadata for a freshly created filesystem: an empty
// user table and a root directory owned by owner. The root directory's id
// is the filesystem id itself and it has no parent.
func NewRoot(fsID, owner ufs.ID) *Root {
	return &Root{
		Users:      users.NewDirectory(),
		RootDir:    NewDirectory(fsID, nil, owner),
		WasmGrants: make(map[string]ufs.Permissions),
	}
}

// Marshal serializes the root for storage through the wrapper protocol.
func (r *Root) Marshal() ([]byte, error) {
	var e encoder
	e.root(r)
	return e.buf, nil
}

// Unmarshal decodes a stored metadata root.
func Unmarshal(data []byte) (*Root, error) {
	d := decoder{buf: data}
	r := d.root()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, ufs.NewError(ufs.CodeBadData, "meta: trailing bytes after root", nil)
	}
	if r.RootDir == nil {
		return nil, ufs.NewError(ufs.CodeBadData, "meta: root has no directory tree", nil)
	}
	return r, nil
}

// Dir returns the directory with the given id, searching from the root.
func (r *Root) Dir(id ufs.ID) (*Directory, error) {
	if d := r.RootDir.LookupDir(id); d != nil {
		return d, nil
	}
	return nil, ufs.NewError(ufs.CodeNotFound, "no such directory id", nil)
}

// File returns the file with the given id, searching from the root.
func (r *Root) File(id ufs.ID) (*File, error) {
	if f := r.RootDir.LookupFile(id); f != nil {
		return f, nil
	}
	return nil, ufs.NewError(ufs.CodeNotFound, "no such file id", nil)
}

// PathForDir reconstructs the absolute path of a directory by id. The path
// is for reporting and wasm grant matching only; all addressing is by id.
func (r *Root) PathForDir(id ufs.ID) (string, error) {
	p, ok := pathTo(r.RootDir, id, false)
	if !ok {
		return "", ufs.NewError(ufs.CodeNotFound, "no such directory id", nil)
	}
	return p, nil
}

// PathForFile reconstructs the absolute path of a file by id.
func (r *Root) PathForFile(id ufs.ID) (string, error) {
	p, ok := pathTo(r.RootDir, id, true)
	if !ok {
		return "", ufs.NewError(ufs.CodeNotFound, "no such file id", nil)
	}
	return p, nil
}

func pathTo(d *Directory, id ufs.ID, wantFile bool) (string, bool) {
	if !wantFile && d.ID == id {
		return "/", true
	}
	for name, e := range d.Entries {
		if wantFile && e.File != nil && e.File.ID == id {
			return "/" + name, true
		}
		if e.Dir == nil {
			continue
		}
		if sub, ok := pathTo(e.Dir, id, wantFile); ok {
			return path.Join("/"+name, sub), true
		}
	}
	return "", false
}

// ReachableBlocks collects every block referenced by any version of any
// file in the tree, for the garbage sweep.
func (r *Root) ReachableBlocks() map[ufs.BlockNumber]bool {
	out := make(map[ufs.BlockNumber]bool)
	var walk func(d *Directory)
	walk = func(d *Directory) {
		for _, e := range d.Entries {
			if e.File != nil {
				for _, v := range e.File.Versions {
					for _, n := range v.Blocks {
						out[n] = true
					}
				}
			}
			if e.Dir != nil {
				walk(e.Dir)
			}
		}
	}
	walk(r.RootDir)
	return out
}

// ValidateTree checks the structural invariants of the directory graph:
// entry names never contain a separator, every child's parent id points
// back at its directory, and every file's dir id does too. Violations are
// collected rather than failing fast.
func (r *Root) ValidateTree() []error {
	var errs []error
	var walk func(d *Directory)
	walk = func(d *Directory) {
		names := make([]string, 0, len(d.Entries))
		for name := range d.Entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e := d.Entries[name]
			if name == "" || pathSeparator(name) {
				errs = append(errs, xerrors.Errorf("directory %s: invalid entry name %q", d.ID, name))
			}
			switch {
			case e.Dir != nil:
				if e.Dir.ParentID == nil || *e.Dir.ParentID != d.ID {
					errs = append(errs, xerrors.Errorf("directory %s: child %q has wrong parent id", d.ID, name))
				}
				walk(e.Dir)
			case e.File != nil:
				if e.File.DirID != d.ID {
					errs = append(errs, xerrors.Errorf("directory %s: file %q has wrong dir id", d.ID, name))
				}
			default:
				errs = append(errs, xerrors.Errorf("directory %s: empty entry %q", d.ID, name))
			}
		}
	}
	walk(r.RootDir)
	if r.RootDir.ParentID != nil {
		errs = append(errs, xerrors.New("root directory has a parent id"))
	}
	return errs
}

func pathSeparator(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return true
		}
	}
	return false
}
