// Package ufs implements the core of an encrypted, block-structured,
// user-space filesystem: a bootstrappable block allocator, a versioned
// directory/file metadata graph serialized through it, and the streaming
// I/O and facade that sit on top. Mounting, CLI tooling, and the sandboxed
// WASM runtime that dispatches filesystem events are external collaborators
// and live outside this module.
package ufs
