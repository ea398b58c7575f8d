// Package users implements the per-user records of a filesystem: password
// derived keys, the on-disk user table, and the login tokens minted for
// authenticated sessions.
package users

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/crypt"
)

// User is one user's record as persisted in the metadata root. The derived
// key is stored alongside its salt; the record relies on the outer
// per-backend encryption for protection at rest. Login recomputes the key
// from the presented password and compares.
type User struct {
	ID   ufs.ID
	Key  []byte
	Salt []byte
}

// Directory is the user table, keyed by user name.
type Directory map[string]User

// NewDirectory returns an empty user table.
func NewDirectory() Directory {
	return make(Directory)
}

// Add creates a user record with a fresh random salt and a key derived from
// the password. Adding a name that already exists fails.
func (d Directory) Add(name, password string) (User, error) {
	if _, ok := d[name]; ok {
		return User{}, ufs.NewError(ufs.CodeNameExists, "user exists: "+name, nil)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return User{}, ufs.Wrap("users: generating salt", err)
	}
	key := crypt.DeriveUserKey(password, salt)
	u := User{ID: ufs.NewUser(name), Key: key[:], Salt: salt}
	d[name] = u
	return u, nil
}

// Authenticate recomputes the stored key from the presented password and
// the record's salt. It returns the user record only on a match.
func (d Directory) Authenticate(name, password string) (User, bool) {
	u, ok := d[name]
	if !ok {
		return User{}, false
	}
	key := crypt.DeriveUserKey(password, u.Salt)
	if subtle.ConstantTimeCompare(key[:], u.Key) != 1 {
		return User{}, false
	}
	return u, true
}

// Names returns every user name in the table, in map order.
func (d Directory) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	return names
}
