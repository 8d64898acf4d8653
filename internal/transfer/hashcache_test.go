package transfer

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func statOpen(t *testing.T, path string) (*os.File, os.FileInfo) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	st, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	return f, st
}

func TestHashCacheReusesUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")
	os.WriteFile(path, []byte("first"), 0o644)
	c := NewHashCache(4)

	f, st := statOpen(t, path)
	h1, err := c.Hash(path, f, st)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := c.Hash(path, f, st)
	if h1 != h2 || c.Len() != 1 {
		t.Fatalf("expected cached hash, got %s %s (len %d)", h1, h2, c.Len())
	}

	// rewrite with a different size and a later mtime
	os.WriteFile(path, []byte("second version"), 0o644)
	later := time.Now().Add(time.Minute)
	os.Chtimes(path, later, later)
	f2, st2 := statOpen(t, path)
	h3, err := c.Hash(path, f2, st2)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("expected a changed file to be rehashed")
	}
}

func TestHashCacheEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	c := NewHashCache(2)
	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte(name), 0o644)
		f, st := statOpen(t, path)
		if _, err := c.Hash(path, f, st); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.entries[filepath.Join(dir, "a")]; ok {
		t.Error("expected oldest entry to be evicted")
	}
}

func TestHashCacheSameSizeRewrite(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("change time is only compared on linux")
	}
	path := filepath.Join(t.TempDir(), "a")
	os.WriteFile(path, []byte("aaaa"), 0o644)
	c := NewHashCache(4)

	f, st := statOpen(t, path)
	h1, err := c.Hash(path, f, st)
	if err != nil {
		t.Fatal(err)
	}

	// same size, mtime restored: only the change time moves
	time.Sleep(20 * time.Millisecond)
	os.WriteFile(path, []byte("bbbb"), 0o644)
	os.Chtimes(path, st.ModTime(), st.ModTime())

	f2, st2 := statOpen(t, path)
	if st2.Size() != st.Size() || !st2.ModTime().Equal(st.ModTime()) {
		t.Fatalf("setup: expected identical size and mtime")
	}
	h2, err := c.Hash(path, f2, st2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("expected rewritten file to be rehashed")
	}
}
