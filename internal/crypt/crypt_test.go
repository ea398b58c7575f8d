package crypt

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatal(err)
	}

	for _, offset := range []uint64{0, 1, 63, 64, 65, 512, 1023, 4096 + 17} {
		want := make([]byte, 300)
		if _, err := rand.Read(want); err != nil {
			t.Fatal(err)
		}
		got := append([]byte(nil), want...)

		Encrypt(key, nonce, offset, got)
		if bytes.Equal(got, want) {
			t.Fatalf("offset %d: ciphertext equals plaintext", offset)
		}
		Decrypt(key, nonce, offset, got)
		if !bytes.Equal(got, want) {
			t.Fatalf("offset %d: round trip mismatch", offset)
		}
	}
}

func TestSeekConsistency(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	copy(nonce[:], []byte("012345678901234567890123"))

	full := make([]byte, 2000)
	for i := range full {
		full[i] = byte(i)
	}
	wholeStream := append([]byte(nil), full...)
	Encrypt(key, nonce, 0, wholeStream)

	for _, offset := range []uint64{0, 1, 500, 1000, 1999} {
		chunk := append([]byte(nil), full[offset:offset+1]...)
		Encrypt(key, nonce, offset, chunk)
		if chunk[0] != wholeStream[offset] {
			t.Fatalf("offset %d: seeked byte %x != whole-stream byte %x", offset, chunk[0], wholeStream[offset])
		}
	}
}

func TestDeriveFSKeyDeterministic(t *testing.T) {
	var id [16]byte
	copy(id[:], []byte("0123456789abcdef"))
	a := DeriveFSKey("hunter2", id)
	b := DeriveFSKey("hunter2", id)
	if a != b {
		t.Fatal("DeriveFSKey is not deterministic")
	}
	c := DeriveFSKey("different", id)
	if a == c {
		t.Fatal("DeriveFSKey ignored the password")
	}
}
