package utils

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestGetCacheFileName(t *testing.T) {
	tests := []struct {
		url, prefix, want string
	}{
		{"https://example.com/a/countries.geo.json", "[WORLD]", "WORLD_countries.geo.json"},
		{"https://example.com/GeoLite2-City.mmdb", "[GEO IP]", "GEO_IP_GeoLite2-City.mmdb"},
		{"https://example.com/file.bin", "", "file.bin"},
	}
	for _, tt := range tests {
		if got := GetCacheFileName(tt.url, tt.prefix); got != tt.want {
			t.Errorf("GetCacheFileName(%q, %q) = %q; want %q", tt.url, tt.prefix, got, tt.want)
		}
	}
}

func withCacheDir(t *testing.T) {
	t.Helper()
	old := CacheDir
	CacheDir = filepath.Join(t.TempDir(), "cache")
	t.Cleanup(func() { CacheDir = old })
}

func TestGetCachedReaderCaches(t *testing.T) {
	withCacheDir(t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		r, err := GetCachedReader(srv.URL+"/data.json", true, "[TEST]")
		if err != nil {
			t.Fatalf("GetCachedReader() error: %v", err)
		}
		b, _ := io.ReadAll(r)
		_ = r.Close()
		if string(b) != "payload" {
			t.Errorf("read %q; want payload", b)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times; want 1", hits.Load())
	}
	if _, err := os.Stat(filepath.Join(CacheDir, "TEST_data.json")); err != nil {
		t.Errorf("cache file missing: %v", err)
	}
}

func TestGetCachedReaderErrors(t *testing.T) {
	withCacheDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	for _, useCache := range []bool{true, false} {
		if _, err := GetCachedReader(srv.URL+"/missing", useCache, "[TEST]"); !errors.Is(err, ErrNotFound) {
			t.Errorf("useCache=%v missing file error = %v; want ErrNotFound", useCache, err)
		}
		if _, err := GetCachedReader(srv.URL+"/broken", useCache, "[TEST]"); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("useCache=%v server error = %v; want a status error", useCache, err)
		}
	}
	// A failed download leaves nothing behind to be mistaken for a cache hit.
	if entries, _ := os.ReadDir(CacheDir); len(entries) != 0 {
		t.Errorf("cache dir has %d entries after failed downloads", len(entries))
	}
}

func TestGetCachedReaderStreams(t *testing.T) {
	withCacheDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("streamed"))
	}))
	defer srv.Close()

	r, err := GetCachedReader(srv.URL+"/x", false, "[TEST]")
	if err != nil {
		t.Fatalf("GetCachedReader() error: %v", err)
	}
	defer func() { _ = r.Close() }()
	b, _ := io.ReadAll(r)
	if string(b) != "streamed" {
		t.Errorf("read %q; want streamed", b)
	}
	if _, err := os.Stat(CacheDir); !os.IsNotExist(err) {
		t.Errorf("streaming created the cache dir: %v", err)
	}
}
