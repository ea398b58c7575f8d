package meta

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/users"
)

// The metadata root is persisted in the same canonical form as the block
// map: little-endian fixed-width integers, u64 length prefixes on strings,
// slices, and maps, a 1-byte tag ahead of optional or variant values, and
// timestamps as unix seconds. Map entries are written sorted by key so the
// serialized form of a given tree is stable byte for byte.

const (
	entryDir  = 1
	entryFile = 2
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}
func (e *encoder) id(v ufs.ID) {
	b := v.Bytes()
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) str(s string) {
	e.u64(uint64(len(s)))
	e.buf = append(e.buf, s...)
}
func (e *encoder) bytes(b []byte) {
	e.u64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}
func (e *encoder) time(t time.Time) { e.u64(uint64(t.Unix())) }
func (e *encoder) perms(p ufs.Permissions) {
	e.u8(uint8(p.User))
	e.u8(uint8(p.Group))
	e.u8(uint8(p.Other))
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = ufs.NewError(ufs.CodeBadData, "meta: truncated record", nil)
	}
}

func (d *decoder) take(n uint64) []byte {
	if d.err != nil || uint64(len(d.buf)) < n {
		d.fail()
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) id() ufs.ID {
	b := d.take(16)
	if b == nil {
		return ufs.ID{}
	}
	var raw [16]byte
	copy(raw[:], b)
	return ufs.IDFromBytes(raw)
}

func (d *decoder) str() string { return string(d.take(d.u64())) }

func (d *decoder) bytes() []byte {
	b := d.take(d.u64())
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *decoder) time() time.Time { return time.Unix(int64(d.u64()), 0).UTC() }

func (d *decoder) perms() ufs.Permissions {
	return ufs.Permissions{
		User:  ufs.Permission(d.u8()),
		Group: ufs.Permission(d.u8()),
		Other: ufs.Permission(d.u8()),
	}
}

func (e *encoder) root(r *Root) {
	names := make([]string, 0, len(r.Users))
	for name := range r.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	e.u64(uint64(len(names)))
	for _, name := range names {
		u := r.Users[name]
		e.str(name)
		e.id(u.ID)
		e.bytes(u.Key)
		e.bytes(u.Salt)
	}

	e.dir(r.RootDir)

	paths := make([]string, 0, len(r.WasmGrants))
	for p := range r.WasmGrants {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	e.u64(uint64(len(paths)))
	for _, p := range paths {
		e.str(p)
		e.perms(r.WasmGrants[p])
	}
}

func (d *decoder) root() *Root {
	r := &Root{
		Users:      users.NewDirectory(),
		WasmGrants: make(map[string]ufs.Permissions),
	}
	for i, n := uint64(0), d.u64(); i < n && d.err == nil; i++ {
		name := d.str()
		r.Users[name] = users.User{ID: d.id(), Key: d.bytes(), Salt: d.bytes()}
	}
	r.RootDir = d.dir()
	for i, n := uint64(0), d.u64(); i < n && d.err == nil; i++ {
		p := d.str()
		r.WasmGrants[p] = d.perms()
	}
	return r
}

func (e *encoder) dir(dir *Directory) {
	e.id(dir.ID)
	if dir.ParentID != nil {
		e.u8(1)
		e.id(*dir.ParentID)
	} else {
		e.u8(0)
	}
	e.id(dir.Owner)
	e.perms(dir.Perms)
	e.bool(dir.WasmDir)
	e.bool(dir.VersDir)
	e.time(dir.Birth)
	e.time(dir.Write)
	e.time(dir.Change)
	e.time(dir.Access)

	names := make([]string, 0, len(dir.Entries))
	for name := range dir.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	e.u64(uint64(len(names)))
	for _, name := range names {
		e.str(name)
		entry := dir.Entries[name]
		switch {
		case entry.Dir != nil:
			e.u8(entryDir)
			e.dir(entry.Dir)
		case entry.File != nil:
			e.u8(entryFile)
			e.file(entry.File)
		default:
			// An empty entry cannot be represented; encode as a vacant
			// directory slot is impossible, so drop it. ValidateTree
			// reports these.
			e.u8(0)
		}
	}
}

func (d *decoder) dir() *Directory {
	dir := &Directory{ID: d.id()}
	if d.u8() == 1 {
		id := d.id()
		dir.ParentID = &id
	}
	dir.Owner = d.id()
	dir.Perms = d.perms()
	dir.WasmDir = d.bool()
	dir.VersDir = d.bool()
	dir.Birth = d.time()
	dir.Write = d.time()
	dir.Change = d.time()
	dir.Access = d.time()
	dir.Entries = make(map[string]*Entry)
	for i, n := uint64(0), d.u64(); i < n && d.err == nil; i++ {
		name := d.str()
		switch d.u8() {
		case entryDir:
			dir.Entries[name] = &Entry{Dir: d.dir()}
		case entryFile:
			dir.Entries[name] = &Entry{File: d.file()}
		case 0:
		default:
			d.err = ufs.NewError(ufs.CodeBadData, "meta: unknown entry tag", nil)
		}
	}
	return dir
}

func (e *encoder) file(f *File) {
	e.id(f.ID)
	e.id(f.DirID)
	e.id(f.Owner)
	e.perms(f.Perms)
	e.u64(f.LastVersion)

	nums := make([]uint64, 0, len(f.Versions))
	for n := range f.Versions {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	e.u64(uint64(len(nums)))
	for _, n := range nums {
		v := f.Versions[n]
		e.u64(n)
		e.id(v.ID)
		e.id(v.FileID)
		e.time(v.Birth)
		e.time(v.Write)
		e.time(v.Change)
		e.time(v.Access)
		e.u64(v.Size)
		e.u64(uint64(len(v.Blocks)))
		for _, b := range v.Blocks {
			e.u64(uint64(b))
		}
	}
}

func (d *decoder) file() *File {
	f := &File{
		ID:       d.id(),
		DirID:    d.id(),
		Owner:    d.id(),
		Perms:    d.perms(),
		Versions: make(map[uint64]*Version),
	}
	f.LastVersion = d.u64()
	for i, n := uint64(0), d.u64(); i < n && d.err == nil; i++ {
		num := d.u64()
		v := &Version{
			ID:     d.id(),
			FileID: d.id(),
			Birth:  d.time(),
			Write:  d.time(),
			Change: d.time(),
			Access: d.time(),
			Size:   d.u64(),
		}
		for j, m := uint64(0), d.u64(); j < m && d.err == nil; j++ {
			v.Blocks = append(v.Blocks, ufs.BlockNumber(d.u64()))
		}
		f.Versions[num] = v
	}
	return f
}
