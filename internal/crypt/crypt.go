// Package crypt implements the encryption primitive and key derivation used
// throughout ufs: a seekable stream cipher over an offset-addressable
// keystream, and the PBKDF2 derivation that turns a password into a
// filesystem or user key.
package crypt

import (
	"crypto/sha256"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize and NonceSize are the XChaCha20 key and nonce widths the on-disk
// format commits to.
const (
	KeySize   = 32
	NonceSize = 24

	// kdfIterations is part of the on-disk contract: changing it breaks
	// every existing filesystem image.
	kdfIterations = 271828
)

// DeriveFSKey derives the per-filesystem key from a password and the
// filesystem's identity bytes, used as the PBKDF2 salt.
func DeriveFSKey(password string, fsID [16]byte) [KeySize]byte {
	return derive(password, fsID[:])
}

// DeriveUserKey derives a per-user key from a password and a random salt
// (the "user nonce" of §4.9).
func DeriveUserKey(password string, salt []byte) [KeySize]byte {
	return derive(password, salt)
}

func derive(password string, salt []byte) [KeySize]byte {
	raw := pbkdf2.Key([]byte(password), salt, kdfIterations, KeySize, sha256.New)
	var key [KeySize]byte
	copy(key[:], raw)
	return key
}

// BackendNonce computes the deterministic per-backend nonce: the storage
// layer must be able to encrypt metadata before any user is known, so it is
// derived purely from the filesystem id.
func BackendNonce(fsID [16]byte) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[0:16], fsID[:])
	copy(nonce[16:24], fsID[:8])
	return nonce
}

// VersionNonce computes the per-file-version nonce used for all user data
// written under that version.
func VersionNonce(verID, fileID [16]byte) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[0:4], verID[0:4])
	copy(nonce[4:20], fileID[:])
	copy(nonce[20:24], verID[12:16])
	return nonce
}

// Encrypt XORs buf in place with the keystream for (key, nonce) starting at
// the given absolute stream offset. It is seekable: encrypting at offset N
// produces exactly the bytes a full encryption from 0 would have produced
// at position N, which is what lets the block manager decrypt block k of a
// version using only that block's own offset and never the blocks before
// it.
func Encrypt(key [KeySize]byte, nonce [NonceSize]byte, offset uint64, buf []byte) {
	xor(key, nonce, offset, buf)
}

// Decrypt undoes Encrypt; for this stream cipher the two operations are
// identical, but the name documents intent at call sites.
func Decrypt(key [KeySize]byte, nonce [NonceSize]byte, offset uint64, buf []byte) {
	xor(key, nonce, offset, buf)
}

func xor(key [KeySize]byte, nonce [NonceSize]byte, offset uint64, buf []byte) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key/nonce are fixed-size arrays; a construction failure here is a
		// programming error, never an I/O condition.
		panic("crypt: " + err.Error())
	}
	c.SetCounter(uint32(offset / 64))
	skip := int(offset % 64)
	if skip == 0 {
		c.XORKeyStream(buf, buf)
		return
	}
	// XChaCha20 only lets us seek to 64-byte block boundaries; burn the
	// leading partial block of keystream to reach the exact byte offset.
	scratch := make([]byte, skip+len(buf))
	copy(scratch[skip:], buf)
	c.XORKeyStream(scratch, scratch)
	copy(buf, scratch[skip:])
}
