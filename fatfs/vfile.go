package fatfs

import (
	"sync"

	"rvkernel/blkcache"
)

// VFile is a handle onto one file or directory's data, addressed by its
// first cluster. Every handle serializes its own
// reads/writes with a mutex; the block cache below provides the actual
// cross-handle consistency.
type VFile struct {
	mu      sync.Mutex
	cache   *blkcache.Cache
	bpb     *BPB
	fat     *Table
	head    uint32
	size    uint32
	isDir   bool
	removed bool

	// dirSector/dirOffset locate this file's own short entry in its
	// parent directory, so WriteAt/Clear can rewrite the on-disk size
	// in place. dirSector is -1 for the root directory's VFile, which
	// has no parent entry to rewrite; persistSize skips any negative
	// dirSector.
	dirSector int
	dirOffset int
}

func newVFile(cache *blkcache.Cache, bpb *BPB, fat *Table, head uint32, size uint32, isDir bool, dirSector, dirOffset int) *VFile {
	return &VFile{cache: cache, bpb: bpb, fat: fat, head: head, size: size, isDir: isDir, dirSector: dirSector, dirOffset: dirOffset}
}

// Stat describes a VFile's directory-visible metadata.
type Stat struct {
	Size  uint32
	IsDir bool
}

func (f *VFile) Stat() Stat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stat{Size: f.size, IsDir: f.isDir}
}

// clusterAt walks the chain to the cluster holding byte offset off,
// returning ErrInvalidChain if the chain is shorter than required.
func (f *VFile) clusterAt(off int) (uint32, error) {
	clusBytes := f.bpb.SectorsPerCluster() * blkcache.SectorSize
	idx := off / clusBytes
	c := f.head
	for i := 0; i < idx; i++ {
		next, err := f.fat.Next(c)
		if err != nil {
			return 0, err
		}
		if IsEOC(next) {
			return 0, ErrInvalidChain
		}
		c = next
	}
	return c, nil
}

// ReadAt reads len(p) bytes starting at off, stopping early at the
// file's recorded size like io.ReaderAt over a fixed-length file.
func (f *VFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed {
		return 0, ErrClosed
	}
	if off >= int64(f.size) && !f.isDir {
		return 0, nil
	}
	clusBytes := f.bpb.SectorsPerCluster() * blkcache.SectorSize
	n := 0
	for n < len(p) {
		cur := off + int64(n)
		if !f.isDir && cur >= int64(f.size) {
			break
		}
		c, err := f.clusterAt(int(cur))
		if err != nil {
			return n, err
		}
		inClus := int(cur) % clusBytes
		sector := f.bpb.ClusterToSector(c) + inClus/blkcache.SectorSize
		inSec := inClus % blkcache.SectorSize
		blk, err := f.cache.Get(sector, blkcache.Read)
		if err != nil {
			return n, err
		}
		want := len(p) - n
		avail := blkcache.SectorSize - inSec
		if !f.isDir {
			remaining := int(f.size) - int(cur)
			if remaining < avail {
				avail = remaining
			}
		}
		if want > avail {
			want = avail
		}
		if want <= 0 {
			break
		}
		copy(p[n:n+want], blk.Data[inSec:inSec+want])
		n += want
	}
	return n, nil
}

// WriteAt writes len(p) bytes at off, extending the cluster chain and
// growing f.size as needed.
func (f *VFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed {
		return 0, ErrClosed
	}
	origSize := f.size
	clusBytes := f.bpb.SectorsPerCluster() * blkcache.SectorSize
	n := 0
	for n < len(p) {
		cur := off + int64(n)
		if err := f.ensureClusterFor(int(cur)); err != nil {
			return n, err
		}
		c, err := f.clusterAt(int(cur))
		if err != nil {
			return n, err
		}
		inClus := int(cur) % clusBytes
		sector := f.bpb.ClusterToSector(c) + inClus/blkcache.SectorSize
		inSec := inClus % blkcache.SectorSize
		want := len(p) - n
		avail := blkcache.SectorSize - inSec
		if want > avail {
			want = avail
		}
		chunk := p[n : n+want]
		if err := f.cache.Modify(sector, func(buf []byte) {
			copy(buf[inSec:inSec+want], chunk)
		}); err != nil {
			return n, err
		}
		n += want
		if newSize := uint32(cur) + uint32(want); newSize > f.size {
			f.size = newSize
		}
	}
	if f.size != origSize {
		if err := f.persistSize(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// persistSize rewrites the FileSize field of this file's own short
// entry in its parent directory, so the size survives a cache
// write-back and remount. A no-op for handles with no backing entry
// (the root directory).
func (f *VFile) persistSize() error {
	if f.dirSector < 0 {
		return nil
	}
	size := f.size
	offset := f.dirOffset
	return f.cache.Modify(f.dirSector, func(buf []byte) {
		var se ShortEntry
		copy(se.Data[:], buf[offset:offset+32])
		se.SetFileSize(size)
		copy(buf[offset:offset+32], se.Data[:])
	})
}

// ensureClusterFor allocates clusters onto the chain's tail until it
// reaches far enough to cover byte offset off.
func (f *VFile) ensureClusterFor(off int) error {
	clusBytes := f.bpb.SectorsPerCluster() * blkcache.SectorSize
	idx := off / clusBytes
	c := f.head
	for i := 0; i < idx; i++ {
		next, err := f.fat.Next(c)
		if err != nil {
			return err
		}
		if IsEOC(next) {
			newClus, err := f.fat.Alloc(c)
			if err != nil {
				return err
			}
			next = newClus
		}
		c = next
	}
	return nil
}

// Clear truncates the file to zero bytes, freeing every cluster after
// the first and leaving the first cluster allocated; its bytes are not
// overwritten.
func (f *VFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed {
		return ErrClosed
	}
	next, err := f.fat.Next(f.head)
	if err != nil {
		return err
	}
	if !IsEOC(next) {
		if err := f.fat.FreeChain(next); err != nil {
			return err
		}
		if err := f.fat.SetNext(f.head, ClusterEOCMin); err != nil {
			return err
		}
	}
	f.size = 0
	return f.persistSize()
}

// Size returns the file's byte length as currently cached.
func (f *VFile) Size() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// FirstCluster exposes the file's head cluster, e.g. for rewriting its
// parent directory entry after size changes.
func (f *VFile) FirstCluster() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

func (f *VFile) markRemoved() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}
