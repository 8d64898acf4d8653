package transfer

import (
	"io"
	"os"
	"sync"
	"time"
)

// DefaultHashCacheEntries bounds a HashCache created with a non-positive
// size.
const DefaultHashCacheEntries = 256

type fileIdentity struct {
	ino   uint64
	ctime int64
}

type hashEntry struct {
	size       int64
	modTime    time.Time
	id         fileIdentity
	hash       string
	lastAccess time.Time
}

// HashCache remembers file hashes keyed by path. An entry is reused only
// while the file's size, modification time, inode and change time are
// unchanged. Outside Linux only size and modification time are compared.
type HashCache struct {
	max int

	mu      sync.Mutex
	entries map[string]*hashEntry
}

// NewHashCache creates a cache holding at most maxEntries hashes.
func NewHashCache(maxEntries int) *HashCache {
	if maxEntries <= 0 {
		maxEntries = DefaultHashCacheEntries
	}
	return &HashCache{
		max:     maxEntries,
		entries: make(map[string]*hashEntry),
	}
}

// Hash returns the hash of f, whose path is path and whose stat is st,
// hashing from the start of the file on a cache miss. It reads through
// ReadAt and leaves f's offset alone.
func (c *HashCache) Hash(path string, f io.ReaderAt, st os.FileInfo) (string, error) {
	if h, ok := c.lookup(path, st); ok {
		return h, nil
	}
	h, err := Hash(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		return "", err
	}
	c.store(path, st, h)
	return h, nil
}

// Len returns the number of cached hashes.
func (c *HashCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *HashCache) lookup(path string, st os.FileInfo) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return "", false
	}
	if e.size != st.Size() || !e.modTime.Equal(st.ModTime()) || e.id != identityOf(st) {
		delete(c.entries, path)
		return "", false
	}
	e.lastAccess = time.Now()
	return e.hash, true
}

func (c *HashCache) store(path string, st os.FileInfo, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; !ok {
		for len(c.entries) >= c.max {
			c.evictOldest()
		}
	}
	c.entries[path] = &hashEntry{
		size:       st.Size(),
		modTime:    st.ModTime(),
		id:         identityOf(st),
		hash:       hash,
		lastAccess: time.Now(),
	}
}

func (c *HashCache) evictOldest() {
	var oldestPath string
	var oldest *hashEntry
	for path, e := range c.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldest = e
			oldestPath = path
		}
	}
	if oldest != nil {
		delete(c.entries, oldestPath)
	}
}
