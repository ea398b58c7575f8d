// Package meta implements the versioned directory/file graph of a
// filesystem: directories with named entries, files as maps of immutable
// versions, and the metadata root that ties them to the user table. The
// graph is id-addressed; directories point to parents by id and to children
// by value, and lookups search from the root.
package meta

import (
	"time"

	"github.com/uberfoo/ufs"
)

// Reserved child directories every directory is created with. WasmDir holds
// programs the external runtime may execute on filesystem events; VersDir
// exposes older file versions.
const (
	WasmDir = ".wasm"
	VersDir = ".vers"

	// WasmExt marks files the runtime loads out of a WasmDir.
	WasmExt = ".wasm"
)

// Directory is the metadata of one directory.
type Directory struct {
	ID       ufs.ID
	ParentID *ufs.ID
	Owner    ufs.ID
	Perms    ufs.Permissions
	WasmDir  bool
	VersDir  bool
	Birth    time.Time
	Write    time.Time
	Change   time.Time
	Access   time.Time
	Entries  map[string]*Entry
}

// Entry is one name in a directory: either a subdirectory or a file.
type Entry struct {
	Dir  *Directory
	File *File
}

// NewDirectory creates a directory with the two reserved children every
// directory carries. The reserved children are plain directories apart from
// their flags; they do not recurse.
func NewDirectory(id ufs.ID, parent *ufs.ID, owner ufs.ID) *Directory {
	d := bareDirectory(id, parent, owner)
	wasmID := id.New(WasmDir)
	versID := id.New(VersDir)
	wasm := bareDirectory(wasmID, &d.ID, owner)
	wasm.WasmDir = true
	vers := bareDirectory(versID, &d.ID, owner)
	vers.VersDir = true
	d.Entries[WasmDir] = &Entry{Dir: wasm}
	d.Entries[VersDir] = &Entry{Dir: vers}
	return d
}

func bareDirectory(id ufs.ID, parent *ufs.ID, owner ufs.ID) *Directory {
	now := time.Now().UTC().Truncate(time.Second)
	return &Directory{
		ID:       id,
		ParentID: parent,
		Owner:    owner,
		Perms:    ufs.DefaultDirPermissions(),
		Birth:    now,
		Write:    now,
		Change:   now,
		Access:   now,
		Entries:  make(map[string]*Entry),
	}
}

// NewSubdirectory creates a child directory under d. The child's id is
// deterministic from d's id and the name, so it is stable across runs.
func (d *Directory) NewSubdirectory(name string, owner ufs.ID) (*Directory, error) {
	if _, ok := d.Entries[name]; ok {
		return nil, ufs.NewError(ufs.CodeNameExists, "directory exists: "+name, nil)
	}
	sub := NewDirectory(d.ID.New(name), &d.ID, owner)
	d.Entries[name] = &Entry{Dir: sub}
	d.touchWrite()
	return sub, nil
}

// NewFile creates a file under d, owned by d's owner, with an empty
// version 0.
func (d *Directory) NewFile(name string) (*File, error) {
	if _, ok := d.Entries[name]; ok {
		return nil, ufs.NewError(ufs.CodeNameExists, "file exists: "+name, nil)
	}
	f := NewFile(d.ID.New(name), d.ID, d.Owner)
	d.Entries[name] = &Entry{File: f}
	d.touchWrite()
	return f, nil
}

// RemoveDirectory removes the named child directory from d.
func (d *Directory) RemoveDirectory(name string) error {
	e, ok := d.Entries[name]
	if !ok || e.Dir == nil {
		return ufs.NewError(ufs.CodeNotFound, "no such directory: "+name, nil)
	}
	delete(d.Entries, name)
	d.touchWrite()
	return nil
}

// RemoveFile removes the named file from d and returns every block owned by
// any version of it, for the caller to recycle.
func (d *Directory) RemoveFile(name string) ([]ufs.BlockNumber, error) {
	e, ok := d.Entries[name]
	if !ok || e.File == nil {
		return nil, ufs.NewError(ufs.CodeNotFound, "no such file: "+name, nil)
	}
	var blocks []ufs.BlockNumber
	for _, v := range e.File.Versions {
		blocks = append(blocks, v.Blocks...)
	}
	delete(d.Entries, name)
	d.touchWrite()
	return blocks, nil
}

// LookupDir searches d's subtree for a directory by id.
func (d *Directory) LookupDir(id ufs.ID) *Directory {
	if d.ID == id {
		return d
	}
	for _, e := range d.Entries {
		if e.Dir == nil {
			continue
		}
		if found := e.Dir.LookupDir(id); found != nil {
			return found
		}
	}
	return nil
}

// LookupFile searches d's subtree for a file by id.
func (d *Directory) LookupFile(id ufs.ID) *File {
	for _, e := range d.Entries {
		if e.File != nil && e.File.ID == id {
			return e.File
		}
		if e.Dir != nil {
			if found := e.Dir.LookupFile(id); found != nil {
				return found
			}
		}
	}
	return nil
}

func (d *Directory) touchWrite() {
	now := time.Now().UTC().Truncate(time.Second)
	d.Write = now
	d.Change = now
}
