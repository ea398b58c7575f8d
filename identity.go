package ufs

import (
	"crypto/rand"
	"encoding/base32"

	"github.com/google/uuid"
)

// fsRootUUID and userRootUUID are the two well-known namespace roots every
// identifier in a UFS filesystem descends from. They are themselves v5
// UUIDs of the DNS namespace, matching the original uberfoo.com scheme.
var (
	fsRootUUID   = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("uberfoo.com"))
	userRootUUID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("user.uberfoo.com"))
)

// ID is a namespaced, deterministic (or randomly seeded) identifier. Every
// ID but the two roots is derived from a parent ID plus a name, so two runs
// that create the same path produce the same ID.
type ID struct {
	inner uuid.UUID
}

// NewRootFS derives the filesystem identity from a stable name, conventionally
// the basename of the backend's storage path.
func NewRootFS(name string) ID {
	return ID{inner: uuid.NewSHA1(fsRootUUID, []byte(name))}
}

// NewUser derives a user's identity from their user name.
func NewUser(name string) ID {
	return ID{inner: uuid.NewSHA1(userRootUUID, []byte(name))}
}

// New derives a deterministic child identifier from id and name. Calling New
// with the same (id, name) pair always yields the same ID.
func (id ID) New(name string) ID {
	return ID{inner: uuid.NewSHA1(id.inner, []byte(name))}
}

// Random derives a non-deterministic child of id, used for values (such as a
// file version) that must be unique across runs even when the parent and
// logical name repeat.
func (id ID) Random() ID {
	suffix := make([]byte, 20)
	if _, err := rand.Read(suffix); err != nil {
		panic("ufs: reading random bytes: " + err.Error())
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	name := enc.EncodeToString(suffix)[:20]
	return ID{inner: uuid.NewSHA1(id.inner, []byte(name))}
}

// Bytes returns the raw 16-byte value of id.
func (id ID) Bytes() [16]byte {
	return id.inner
}

// String renders id in canonical UUID form.
func (id ID) String() string {
	return id.inner.String()
}

// MarshalText implements encoding.TextMarshaler using the canonical string
// form, so IDs serialize cleanly in JSON values and map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	id.inner = u
	return nil
}

// Equal reports whether two IDs are the same value. The == operator works
// too; Equal exists so structural diffing tools can compare IDs without
// reaching into unexported state.
func (id ID) Equal(other ID) bool {
	return id.inner == other.inner
}

// IsZero reports whether id is the zero value (never a valid derived ID).
func (id ID) IsZero() bool {
	return id.inner == uuid.Nil
}

// IDFromBytes reconstitutes an ID from its raw 16-byte form, as produced by
// Bytes.
func IDFromBytes(b [16]byte) ID {
	return ID{inner: uuid.UUID(b)}
}

// ParseID parses the canonical string form of an ID, as produced by String.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{inner: u}, nil
}
