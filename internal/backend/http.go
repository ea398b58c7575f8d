package backend

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/uberfoo/ufs"
	"github.com/uberfoo/ufs/internal/blockmap"
	"github.com/uberfoo/ufs/internal/crypt"
)

// HTTP is the remote block store client. Blocks live on a block server
// under a named bundle; the wire protocol carries ciphertext only, so the
// server never sees plaintext or keys. The filesystem identity is derived
// from the bundle name the same way the file store derives it from its
// root directory's basename.
type HTTP struct {
	m      *blockmap.BlockMap
	base   string
	bundle string
	client *http.Client
	key    [crypt.KeySize]byte
	nonce  [crypt.NonceSize]byte
}

var _ Backend = (*HTTP)(nil)

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			// The access pattern is many small sequential block requests
			// to one host; keep the connections around.
			MaxIdleConnsPerHost: 16,
		},
		Timeout: 30 * time.Second,
	}
}

// CreateHTTP initializes a new filesystem in the named bundle on a block
// server and writes its initial block map.
func CreateHTTP(password, baseURL, bundle string, size ufs.BlockSize, count uint64) (*HTTP, error) {
	if !size.Valid() {
		return nil, xerrors.Errorf("http store: invalid block size %d", size)
	}
	id := ufs.NewRootFS(bundle)
	s := &HTTP{
		m:      blockmap.New(id, size, count),
		base:   strings.TrimSuffix(baseURL, "/"),
		bundle: bundle,
		client: newHTTPClient(),
		key:    crypt.DeriveFSKey(password, id.Bytes()),
		nonce:  crypt.BackendNonce(id.Bytes()),
	}
	if err := s.CommitMap(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadHTTP opens an existing bundle on a block server. As with the file
// store, a wrong password surfaces as BadData when the block map fails to
// deserialize.
func LoadHTTP(password, baseURL, bundle string) (*HTTP, error) {
	id := ufs.NewRootFS(bundle)
	s := &HTTP{
		base:   strings.TrimSuffix(baseURL, "/"),
		bundle: bundle,
		client: newHTTPClient(),
		key:    crypt.DeriveFSKey(password, id.Bytes()),
		nonce:  crypt.BackendNonce(id.Bytes()),
	}

	// Map blocks are written full-length, so the 0 block's ciphertext
	// length is the block size.
	raw, err := s.fetch(0)
	if err != nil {
		return nil, err
	}
	size := ufs.BlockSize(len(raw))
	if !size.Valid() {
		return nil, ufs.NewError(ufs.CodeBadData, "http store: block 0 has no valid block size", nil)
	}

	bootstrap := func(n ufs.BlockNumber) ([]byte, error) {
		data, err := s.fetch(n)
		if err != nil {
			return nil, err
		}
		crypt.Decrypt(s.key, s.nonce, uint64(n)*uint64(size), data)
		return data, nil
	}
	m, err := blockmap.Deserialize(bootstrap)
	if err != nil {
		return nil, err
	}
	s.m = m
	return s, nil
}

func (s *HTTP) url(n ufs.BlockNumber) string {
	return fmt.Sprintf("%s/%s?%d", s.base, s.bundle, uint64(n))
}

func (s *HTTP) fetch(n ufs.BlockNumber) ([]byte, error) {
	resp, err := s.client.Get(s.url(n))
	if err != nil {
		return nil, ufs.Wrap("http store: GET block", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ufs.NewError(ufs.CodeIOError, fmt.Sprintf("http store: GET block %d: %s", n, resp.Status), nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ufs.Wrap("http store: reading GET body", err)
	}
	return data, nil
}

// ID implements Backend.
func (s *HTTP) ID() ufs.ID { return s.m.ID() }

// BlockSize implements Backend.
func (s *HTTP) BlockSize() ufs.BlockSize { return s.m.BlockSize() }

// BlockCount implements Backend.
func (s *HTTP) BlockCount() uint64 { return s.m.BlockCount() }

// Map implements Backend.
func (s *HTTP) Map() *blockmap.BlockMap { return s.m }

// ReadBlock implements Backend.
func (s *HTTP) ReadBlock(n ufs.BlockNumber) ([]byte, error) {
	if uint64(n) >= s.m.BlockCount() {
		return nil, ufs.NewError(ufs.CodeNoSuchBlock, "no such block", nil)
	}
	data, err := s.fetch(n)
	if err != nil {
		return nil, err
	}
	crypt.Decrypt(s.key, s.nonce, uint64(n)*uint64(s.m.BlockSize()), data)
	return data, nil
}

// WriteBlock implements Backend.
func (s *HTTP) WriteBlock(n ufs.BlockNumber, data []byte) (int, error) {
	if err := checkWrite(s.m, n, data); err != nil {
		return 0, err
	}
	enc := append([]byte(nil), data...)
	crypt.Encrypt(s.key, s.nonce, uint64(n)*uint64(s.m.BlockSize()), enc)

	resp, err := s.client.Post(s.url(n), "application/octet-stream", bytes.NewReader(enc))
	if err != nil {
		return 0, ufs.Wrap("http store: POST block", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, ufs.NewError(ufs.CodeIOError, fmt.Sprintf("http store: POST block %d: %s", n, resp.Status), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, ufs.Wrap("http store: reading POST response", err)
	}
	written, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, ufs.NewError(ufs.CodeBadData, "http store: non-decimal POST response", err)
	}
	return written, nil
}

// CommitMap implements Backend.
func (s *HTTP) CommitMap() error {
	return s.m.Serialize(func(n ufs.BlockNumber, data []byte) error {
		padded := make([]byte, s.m.BlockSize())
		copy(padded, data)
		_, err := s.WriteBlock(n, padded)
		return err
	})
}
