package backend

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/uberfoo/ufs"
)

func TestHTTPStoreRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewServer(t.TempDir()))
	defer srv.Close()

	s, err := CreateHTTP("hunter2", srv.URL, "bundle-a", ufs.BlockSize512, 16)
	if err != nil {
		t.Fatalf("CreateHTTP: %v", err)
	}

	n, err := s.Map().PopFree(ufs.Data)
	if err != nil {
		t.Fatalf("PopFree: %v", err)
	}
	want := []byte("over the wire")
	written, err := s.WriteBlock(n, want)
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if written != len(want) {
		t.Fatalf("WriteBlock reported %d bytes, want %d", written, len(want))
	}
	got, err := s.ReadBlock(n)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadBlock = %q, want %q", got, want)
	}

	if err := s.CommitMap(); err != nil {
		t.Fatalf("CommitMap: %v", err)
	}
	loaded, err := LoadHTTP("hunter2", srv.URL, "bundle-a")
	if err != nil {
		t.Fatalf("LoadHTTP: %v", err)
	}
	if loaded.ID() != s.ID() || loaded.BlockCount() != 16 {
		t.Errorf("loaded geometry differs: id=%s count=%d", loaded.ID(), loaded.BlockCount())
	}

	if _, err := LoadHTTP("wrong", srv.URL, "bundle-a"); !errors.Is(err, ufs.ErrBadData) {
		t.Errorf("LoadHTTP with wrong password = %v, want BadData", err)
	}
}

func TestServerProtocol(t *testing.T) {
	srv := httptest.NewServer(NewServer(t.TempDir()))
	defer srv.Close()

	// Missing block.
	resp, err := http.Get(srv.URL + "/nothing?0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing block = %d, want 404", resp.StatusCode)
	}

	// Garbage block number.
	resp, err = http.Get(srv.URL + "/bundle?notanumber")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET with bad block number = %d, want 400", resp.StatusCode)
	}

	// Write then read, checking the response headers the browser-facing
	// protocol promises.
	resp, err = http.Post(srv.URL+"/bundle?3", "application/octet-stream", bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "3" {
		t.Errorf("POST = (%d, %q), want (200, \"3\")", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/bundle?3")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(got) != "abc" {
		t.Errorf("GET body = %q, want \"abc\"", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cors := resp.Header.Get("Access-Control-Allow-Origin"); cors != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", cors)
	}
}
