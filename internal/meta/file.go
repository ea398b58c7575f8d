package meta

import (
	"time"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/crypt"
)

// File is the metadata of one file: ownership, permissions, and the map of
// its versions. Versions are append-only; the latest committed one is
// LastVersion.
type File struct {
	ID          ufs.ID
	DirID       ufs.ID
	Owner       ufs.ID
	Perms       ufs.Permissions
	LastVersion uint64
	Versions    map[uint64]*Version
}

// NewFile creates a file with an empty version 0, capturing the creation
// timestamps.
func NewFile(id, dirID, owner ufs.ID) *File {
	f := &File{
		ID:       id,
		DirID:    dirID,
		Owner:    owner,
		Perms:    ufs.DefaultFilePermissions(),
		Versions: make(map[uint64]*Version),
	}
	f.Versions[0] = newVersion(id.Random(), id)
	return f
}

// Latest returns the most recently committed version.
func (f *File) Latest() *Version {
	return f.Versions[f.LastVersion]
}

// VersionAt returns version v, if it exists.
func (f *File) VersionAt(v uint64) (*Version, bool) {
	ver, ok := f.Versions[v]
	return ver, ok
}

// VersionCount returns the number of versions of the file.
func (f *File) VersionCount() int {
	return len(f.Versions)
}

// NewWriteVersion mints the in-memory version a write-mode open works
// against: a fresh random id (and therefore a fresh nonce), current
// timestamps, no blocks. It is not inserted into the version map until
// Commit.
func (f *File) NewWriteVersion() *Version {
	return newVersion(f.ID.Random(), f.ID)
}

// Commit makes v the next immutable version iff it is dirty. A version that
// was opened for writing but never written is dropped without consuming a
// version number.
func (f *File) Commit(v *Version) bool {
	if !v.Dirty {
		return false
	}
	v.Dirty = false
	f.LastVersion++
	f.Versions[f.LastVersion] = v
	return true
}

// Version is one immutable snapshot of a file's contents: timestamps, total
// size, and the ordered block list. The dirty flag is in-memory only.
type Version struct {
	ID     ufs.ID
	FileID ufs.ID
	Dirty  bool
	Birth  time.Time
	Write  time.Time
	Change time.Time
	Access time.Time
	Size   uint64
	Blocks []ufs.BlockNumber
}

func newVersion(id, fileID ufs.ID) *Version {
	now := time.Now().UTC().Truncate(time.Second)
	return &Version{
		ID:     id,
		FileID: fileID,
		Birth:  now,
		Write:  now,
		Change: now,
		Access: now,
	}
}

// Nonce returns the stream nonce all data blocks of this version are
// encrypted with. A fresh version id is minted on every write-mode open, so
// no (nonce, offset) pair ever repeats across versions.
func (v *Version) Nonce() [crypt.NonceSize]byte {
	return crypt.VersionNonce(v.ID.Bytes(), v.FileID.Bytes())
}

// AppendBlock records a freshly written block at the end of the version's
// block list and grows the logical size by the block's payload size.
func (v *Version) AppendBlock(rec ufs.BlockRecord) {
	v.Blocks = append(v.Blocks, rec.Number)
	v.Size += uint64(rec.Size)
	v.Dirty = true
	now := time.Now().UTC().Truncate(time.Second)
	v.Write = now
	v.Change = now
}

// Clone returns a deep copy of v, so a read-only open is insulated from
// later mutation of the file's version map.
func (v *Version) Clone() *Version {
	out := *v
	out.Blocks = append([]ufs.BlockNumber(nil), v.Blocks...)
	return &out
}
