// Package mount tracks which fatfs.FS backs which path prefix.
// Mounting here is advisory and single-volume, so this is a small
// ordered table rather than a full VFS layer — the longest matching
// prefix wins.
package mount

import (
	"sort"
	"strings"
	"sync"

	"rvkernel/fatfs"
)

type entry struct {
	prefix string
	fs     *fatfs.FS
}

// Table resolves a path to the filesystem mounted over it.
type Table struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty mount table.
func New() *Table { return &Table{} }

// Mount records fs as the filesystem rooted at prefix (normalized to
// have no trailing slash except for "/" itself).
func (t *Table) Mount(prefix string, fs *fatfs.FS) {
	if prefix != "/" {
		prefix = strings.TrimRight(prefix, "/")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{prefix: prefix, fs: fs})
	sort.Slice(t.entries, func(i, j int) bool {
		return len(t.entries[i].prefix) > len(t.entries[j].prefix)
	})
}

// Unmount removes the entry mounted exactly at prefix.
func (t *Table) Unmount(prefix string) {
	if prefix != "/" {
		prefix = strings.TrimRight(prefix, "/")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.prefix == prefix {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Resolve returns the filesystem whose mount prefix is the longest
// match for p, and the path relative to that mount point.
func (t *Table) Resolve(p string) (*fatfs.FS, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.prefix == "/" {
			return e.fs, p, true
		}
		if p == e.prefix || strings.HasPrefix(p, e.prefix+"/") {
			rel := strings.TrimPrefix(p, e.prefix)
			if rel == "" {
				rel = "/"
			}
			return e.fs, rel, true
		}
	}
	return nil, "", false
}
