// Package fs is the filesystem facade: the surface the external kernel
// bridge drives. It composes the block manager, the metadata tree, and the
// user directory behind a single coarse lock, and deals in integer handles
// for open files and directories.
package fs

import (
	"crypto/rand"
	"log"
	"sync"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/backend"
	"github.com/uberfoo/ufs/internal/crypt"
	"github.com/uberfoo/ufs/internal/manager"
	"github.com/uberfoo/ufs/internal/meta"
	"github.com/uberfoo/ufs/internal/users"
)

// OpenMode selects the access a file open grants.
type OpenMode int

// The open modes.
const (
	Read OpenMode = iota
	Write
	ReadWrite
)

func (m OpenMode) String() string {
	switch m {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadWrite:
		return "ReadWrite"
	default:
		return "OpenMode(?)"
	}
}

type openFile struct {
	fileID  ufs.ID
	mode    OpenMode
	version *meta.Version
}

// FileSystem is an open (mounted) filesystem. All mutating operations take
// the exclusive lock; reads of distinct files may proceed concurrently
// under the shared lock. The design point is a single logical writer.
type FileSystem struct {
	mu sync.RWMutex

	mgr  *manager.Manager
	meta *meta.Root

	// secret signs login tokens. It is per-process; tokens do not
	// outlive the mount that issued them.
	secret []byte

	// user is the authenticated principal: the creating user on a newly
	// created filesystem, and zero on a loaded one until a successful
	// login. Permission checks are skipped while zero: the external
	// bridge fronts unauthenticated mounts itself.
	user ufs.ID

	openFiles map[uint64]*openFile
	openDirs  map[uint64]ufs.ID
	handles   uint64

	closed bool
}

// NewMemory creates an ephemeral in-memory filesystem with the given
// geometry, owned by the named user.
func NewMemory(name, user, password string, size ufs.BlockSize, count uint64) (*FileSystem, error) {
	store, err := backend.NewMemory(name, size, count)
	if err != nil {
		return nil, err
	}
	return create(store, user, password)
}

// CreateFileBacked initializes a new file-backed filesystem rooted at path.
// The filesystem id is derived from the basename of path.
func CreateFileBacked(path, user, password string, size ufs.BlockSize, count uint64) (*FileSystem, error) {
	store, err := backend.CreateFile(password, path, size, count)
	if err != nil {
		return nil, err
	}
	fs, err := create(store, user, password)
	if err != nil {
		return nil, err
	}
	ufs.RegisterAtExit("close "+path, fs.Close)
	return fs, nil
}

// LoadFileBacked mounts an existing file-backed filesystem. A wrong
// password surfaces as BadData from the block-map deserialization.
func LoadFileBacked(path, password string) (*FileSystem, error) {
	store, err := backend.LoadFile(password, path)
	if err != nil {
		return nil, err
	}
	fs, err := load(store, password)
	if err != nil {
		return nil, err
	}
	ufs.RegisterAtExit("close "+path, fs.Close)
	return fs, nil
}

// CreateNetworked initializes a new filesystem in the named bundle on a
// remote block server.
func CreateNetworked(baseURL, bundle, user, password string, size ufs.BlockSize, count uint64) (*FileSystem, error) {
	store, err := backend.CreateHTTP(password, baseURL, bundle, size, count)
	if err != nil {
		return nil, err
	}
	return create(store, user, password)
}

// LoadNetworked mounts an existing filesystem from a remote block server.
func LoadNetworked(baseURL, bundle, password string) (*FileSystem, error) {
	store, err := backend.LoadHTTP(password, baseURL, bundle)
	if err != nil {
		return nil, err
	}
	return load(store, password)
}

func create(store backend.Backend, user, password string) (*FileSystem, error) {
	fs, err := newFS(store, password)
	if err != nil {
		return nil, err
	}
	owner := ufs.NewUser(user)
	fs.meta = meta.NewRoot(fs.mgr.ID(), owner)
	if _, err := fs.meta.Users.Add(user, password); err != nil {
		return nil, err
	}
	fs.user = owner
	if err := fs.commitMeta(); err != nil {
		return nil, err
	}
	if err := fs.mgr.CommitMap(); err != nil {
		return nil, err
	}
	log.Printf("fs: created %s (%d blocks of %d bytes)", fs.mgr.ID(), fs.mgr.BlockCount(), fs.mgr.BlockSize())
	return fs, nil
}

func load(store backend.Backend, password string) (*FileSystem, error) {
	fs, err := newFS(store, password)
	if err != nil {
		return nil, err
	}
	data, err := fs.mgr.ReadMetadata()
	if err != nil {
		return nil, err
	}
	fs.meta, err = meta.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	log.Printf("fs: mounted %s (%d users)", fs.mgr.ID(), len(fs.meta.Users))
	return fs, nil
}

func newFS(store backend.Backend, password string) (*FileSystem, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, ufs.Wrap("fs: generating token secret", err)
	}
	key := crypt.DeriveFSKey(password, store.ID().Bytes())
	return &FileSystem{
		mgr:       manager.New(store, key),
		secret:    secret,
		openFiles: make(map[uint64]*openFile),
		openDirs:  make(map[uint64]ufs.ID),
	}, nil
}

// ID returns the filesystem identity.
func (fs *FileSystem) ID() ufs.ID { return fs.mgr.ID() }

// BlockSize returns the fixed block size.
func (fs *FileSystem) BlockSize() ufs.BlockSize { return fs.mgr.BlockSize() }

// FreeBlockCount returns the number of allocatable blocks.
func (fs *FileSystem) FreeBlockCount() uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mgr.FreeBlockCount()
}

// RootDirectoryID returns the id of the root directory, which doubles as
// the filesystem id.
func (fs *FileSystem) RootDirectoryID() ufs.ID {
	return fs.meta.RootDir.ID
}

// Login authenticates a user and issues a signed token. The authenticated
// user becomes the principal for subsequent permission checks.
func (fs *FileSystem) Login(name, password string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	u, ok := fs.meta.Users.Authenticate(name, password)
	if !ok {
		return "", ufs.NewError(ufs.CodeInvalidToken, "login failed for "+name, nil)
	}
	fs.user = u.ID
	return users.IssueToken(fs.secret, fs.mgr.ID(), u.ID)
}

// VerifyToken validates a token this mount issued.
func (fs *FileSystem) VerifyToken(token string) (*users.Claims, error) {
	return users.VerifyToken(fs.secret, token)
}

// AddUser creates a user record and persists the metadata root.
func (fs *FileSystem) AddUser(name, password string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.meta.Users.Add(name, password); err != nil {
		return err
	}
	return fs.commitMeta()
}

// Users lists the known user names.
func (fs *FileSystem) Users() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.meta.Users.Names()
}

// Close persists the metadata root and the block map. It is the clean
// shutdown point; anything not committed before a crash is invisible to
// the next mount.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	if err := fs.commitMeta(); err != nil {
		return err
	}
	if err := fs.mgr.CommitMap(); err != nil {
		return err
	}
	fs.closed = true
	return nil
}

// commitMeta serializes the metadata root through the wrapper protocol.
// Callers hold the exclusive lock.
func (fs *FileSystem) commitMeta() error {
	data, err := fs.meta.Marshal()
	if err != nil {
		return err
	}
	_, err = fs.mgr.CommitMetadata(data)
	return err
}

// nextHandle returns a fresh handle. Handles are a wrap-around counter;
// the bridge never holds anywhere near 2^64 opens.
func (fs *FileSystem) nextHandle() uint64 {
	h := fs.handles
	fs.handles++
	return h
}
