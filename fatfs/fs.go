// Package fatfs implements the FAT32 on-disk filesystem engine, layered
// directly over blkcache.Cache.
package fatfs

import (
	"fmt"
	"strings"
	"sync"

	"rvkernel/blkcache"
	"rvkernel/bpath"
	"rvkernel/klog"
	"rvkernel/ustr"
)

// FS is a mounted FAT32 volume: the parsed BPB/FS_INFO, the cluster
// chain table, and an open-handle table so repeated opens of the same
// file share one VFile.
type FS struct {
	cache     *blkcache.Cache
	infoCache *blkcache.InfoCache
	bpb       *BPB
	fsinfo    *FSInfo
	fat       *Table

	mu   sync.Mutex
	open map[uint32]*openHandle
}

type openHandle struct {
	file  *VFile
	isDir bool
	refs  int
}

// Mount reads the BPB and FS_INFO sectors off dev and builds an FS on
// top of a fresh block cache.
func Mount(dev blkcache.BlockDevice, cacheCapacity int) (*FS, error) {
	cache := blkcache.New(dev, cacheCapacity)
	info := blkcache.NewInfoCache(dev)

	bpbBlk, err := info.Get(0, blkcache.Read)
	if err != nil {
		return nil, fmt.Errorf("fatfs: read BPB: %w", err)
	}
	bpb := &BPB{Data: bpbBlk.Data}
	if !bpb.Valid() {
		return nil, ErrBadBPB
	}

	fsinfoBlk, err := info.Get(bpb.FSInfoSector(), blkcache.Read)
	if err != nil {
		return nil, fmt.Errorf("fatfs: read FS_INFO: %w", err)
	}
	fsinfo := &FSInfo{Data: fsinfoBlk.Data}

	fat := NewTable(cache, info, bpb, fsinfo, bpb.FSInfoSector())

	fs := &FS{cache: cache, infoCache: info, bpb: bpb, fsinfo: fsinfo, fat: fat, open: make(map[uint32]*openHandle)}
	klog.L.WithFields(klog.Fields{
		"bytes_per_sector": bpb.BytesPerSector(),
		"sectors_per_fat":  bpb.SectorsPerFAT(),
		"root_cluster":     bpb.RootCluster(),
	}).Info("fatfs: volume mounted")
	return fs, nil
}

// fileAt opens (or returns the already-open) file VFile for head.
// dirSector/dirOffset locate the file's own short entry in its parent
// directory (-1, -1 for an entry with no parent, i.e. the root).
func (fs *FS) fileAt(head uint32, size uint32, isDir bool, dirSector, dirOffset int) *VFile {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.open[head]
	if !ok {
		h = &openHandle{file: newVFile(fs.cache, fs.bpb, fs.fat, head, size, isDir, dirSector, dirOffset), isDir: isDir}
		fs.open[head] = h
	}
	h.refs++
	return h.file
}

// Release drops a reference to a previously returned VFile, discarding
// the handle once nothing references it.
func (fs *FS) Release(f *VFile) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	head := f.FirstCluster()
	h, ok := fs.open[head]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(fs.open, head)
	}
}

// Root returns the root directory's VFile.
func (fs *FS) Root() *VFile {
	return fs.fileAt(fs.bpb.RootCluster(), 0, true, -1, -1)
}

// resolveParent walks path's directory components, returning the
// parent directory's VFile plus the final path component's name.
func (fs *FS) resolveParent(p ustr.Ustr) (*VFile, string, error) {
	comps := bpath.Split(p)
	if len(comps) == 0 {
		return nil, "", fmt.Errorf("fatfs: %w: empty path", ErrNotFound)
	}
	parent := fs.Root()
	for _, c := range comps[:len(comps)-1] {
		d := NewDir(fs.cache, fs.bpb, fs.fat, parent.FirstCluster())
		ent, err := d.Lookup(c)
		fs.Release(parent)
		if err != nil {
			return nil, "", err
		}
		if !ent.Short.IsDir() {
			return nil, "", ErrNotDir
		}
		parent = fs.fileAt(ent.Short.FirstCluster(), ent.Short.FileSize(), true, ent.shortSlotSector, ent.shortSlotOffset)
	}
	return parent, comps[len(comps)-1], nil
}

// FindByPath resolves an absolute path to a VFile handle.
func (fs *FS) FindByPath(p ustr.Ustr) (*VFile, error) {
	comps := bpath.Split(p)
	if len(comps) == 0 {
		return fs.Root(), nil
	}
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return nil, err
	}
	d := NewDir(fs.cache, fs.bpb, fs.fat, parent.FirstCluster())
	ent, err := d.Lookup(name)
	fs.Release(parent)
	if err != nil {
		return nil, err
	}
	return fs.fileAt(ent.Short.FirstCluster(), ent.Short.FileSize(), ent.Short.IsDir(), ent.shortSlotSector, ent.shortSlotOffset), nil
}

// Create makes a new file or directory at p.
func (fs *FS) Create(p ustr.Ustr, isDir bool) (*VFile, error) {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return nil, err
	}
	defer fs.Release(parent)

	clus, err := fs.fat.Alloc(0)
	if err != nil {
		return nil, err
	}
	if isDir {
		if err := fs.zeroCluster(clus); err != nil {
			return nil, err
		}
	}
	attr := byte(0)
	if isDir {
		attr = AttrDirectory
	} else {
		attr = AttrArchive
	}
	d := NewDir(fs.cache, fs.bpb, fs.fat, parent.FirstCluster())
	sector, offset, err := d.Insert(name, attr, clus, 0)
	if err != nil {
		_ = fs.fat.FreeChain(clus)
		return nil, err
	}
	return fs.fileAt(clus, 0, isDir, sector, offset), nil
}

func (fs *FS) zeroCluster(c uint32) error {
	var zero [blkcache.SectorSize]byte
	base := fs.bpb.ClusterToSector(c)
	for s := 0; s < fs.bpb.SectorsPerCluster(); s++ {
		if err := fs.cache.Modify(base+s, func(buf []byte) { copy(buf, zero[:]) }); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the file or empty directory at p.
func (fs *FS) Remove(p ustr.Ustr) error {
	target, err := fs.FindByPath(p)
	if err != nil {
		return err
	}
	st := target.Stat()
	if st.IsDir {
		d := NewDir(fs.cache, fs.bpb, fs.fat, target.FirstCluster())
		entries, err := d.Iterate()
		if err != nil {
			fs.Release(target)
			return err
		}
		for _, e := range entries {
			if e.LongName != "." && e.LongName != ".." {
				fs.Release(target)
				return fmt.Errorf("fatfs: %w: directory not empty", ErrExists)
			}
		}
	}
	target.markRemoved()
	fs.Release(target)

	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return err
	}
	defer fs.Release(parent)
	d := NewDir(fs.cache, fs.bpb, fs.fat, parent.FirstCluster())
	return d.Delete(name)
}

// LsLite lists the directory at p without reconstructing full VFile
// handles for each child, returning just (name, isDir, size).
func (fs *FS) LsLite(p ustr.Ustr) ([]DirEntry, error) {
	target, err := fs.FindByPath(p)
	if err != nil {
		return nil, err
	}
	defer fs.Release(target)
	if !target.Stat().IsDir {
		return nil, ErrNotDir
	}
	d := NewDir(fs.cache, fs.bpb, fs.fat, target.FirstCluster())
	entries, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.LongName == "." || e.LongName == ".." {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ReaddirVFile lists the entries of an already-open directory VFile,
// for getdents64 callers that hold a descriptor rather than a path.
func (fs *FS) ReaddirVFile(vf *VFile) ([]DirEntry, error) {
	if !vf.Stat().IsDir {
		return nil, ErrNotDir
	}
	d := NewDir(fs.cache, fs.bpb, fs.fat, vf.FirstCluster())
	entries, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.LongName == "." || e.LongName == ".." {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DirentInfo resolves p to a lightweight Stat without keeping a handle
// open past the call.
func (fs *FS) DirentInfo(p ustr.Ustr) (Stat, error) {
	f, err := fs.FindByPath(p)
	if err != nil {
		return Stat{}, err
	}
	st := f.Stat()
	fs.Release(f)
	return st, nil
}

// CacheWriteBack flushes every dirty cache buffer, both the main data
// pool and the dedicated superblock pool, to the underlying device.
func (fs *FS) CacheWriteBack() error {
	if err := fs.cache.WriteBackAll(); err != nil {
		return err
	}
	return fs.infoCache.WriteBackAll()
}

// joinPath is a small helper used by callers that build paths from
// parent+child components rather than a pre-joined ustr.Ustr.
func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
