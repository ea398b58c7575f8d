package backend

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"
)

// Server is the block server side of the HTTP protocol: a dumb byte
// carrier, one file per (bundle, block), no knowledge of block maps or
// keys. Bodies are ciphertext produced by the client; integrity checking
// happens client-side against the block map's hashes.
//
//	GET  /{bundle}?{block}  -> 200 octet-stream body, 404 if absent
//	POST /{bundle}?{block}  -> 200, body is the decimal byte count written
type Server struct {
	root string
}

// NewServer serves bundles out of subdirectories of root.
func NewServer(root string) *Server {
	return &Server{root: root}
}

func (s *Server) blockFile(bundle string, block uint64) string {
	return filepath.Join(s.root, bundle, fmt.Sprintf("%d.ufsb", block))
}

func parseTarget(r *http.Request) (bundle string, block uint64, ok bool) {
	bundle = strings.Trim(r.URL.Path, "/")
	if bundle == "" || strings.Contains(bundle, "/") || strings.HasPrefix(bundle, ".") {
		return "", 0, false
	}
	block, err := strconv.ParseUint(r.URL.RawQuery, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return bundle, block, true
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bundle, block, ok := parseTarget(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		data, err := os.ReadFile(s.blockFile(bundle, block))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(data)

	case http.MethodPost:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		path := s.blockFile(bundle, block)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			http.Error(w, "cannot create bundle", http.StatusInternalServerError)
			return
		}
		if err := renameio.WriteFile(path, data, 0600); err != nil {
			log.Printf("block server: writing %s: %v", path, err)
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprintf(w, "%d", len(data))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
