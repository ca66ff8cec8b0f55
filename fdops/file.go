package fdops

import (
	"fmt"
	"sync"

	"rvkernel/blkcache"
	"rvkernel/defs"
	"rvkernel/fatfs"
)

// seekable is the subset of fatfs.VFile a regular-file descriptor
// needs; kept as an interface so fdops doesn't need the whole VFile
// surface wired in by name.
type seekable interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Stat() fatfs.Stat
}

// File adapts a fatfs.VFile (or anything with the same shape) to
// Fdops_i, tracking the POSIX read/write cursor a VFile itself doesn't
// know about.
type File struct {
	mu      sync.Mutex
	vf      seekable
	off     int64
	closer  func()
	readdir func() ([]fatfs.DirEntry, error)
	refs    int // descriptors sharing this File; Reopen adds one, Close drops one
}

// NewFile wraps vf with a zeroed offset. closer, if non-nil, is called
// once when the descriptor's last reference is closed (e.g. to release
// the handle back to the owning fatfs.FS).
func NewFile(vf seekable, closer func()) *File {
	return &File{vf: vf, closer: closer, refs: 1}
}

// NewDirFile is NewFile plus a listing closure, for descriptors opened
// on a directory, so getdents64 can enumerate without re-resolving a
// path.
func NewDirFile(vf seekable, closer func(), readdir func() ([]fatfs.DirEntry, error)) *File {
	f := NewFile(vf, closer)
	f.readdir = readdir
	return f
}

// Readdir lists the directory's entries. It fails on a descriptor that
// wasn't opened with NewDirFile.
func (f *File) Readdir() ([]fatfs.DirEntry, error) {
	if f.readdir == nil {
		return nil, fmt.Errorf("fdops: not a directory descriptor")
	}
	return f.readdir()
}

// ReadAt exposes the underlying VFile directly, so mmap (vmm.FileReader)
// can populate file-backed pages without going through the descriptor's
// POSIX cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.vf.ReadAt(p, off)
}

func (f *File) Read(dst []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.vf.ReadAt(dst, f.off)
	if err != nil {
		return n, -defs.EIO
	}
	f.off += int64(n)
	return n, 0
}

func (f *File) Write(src []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.vf.WriteAt(src, f.off)
	if err != nil {
		return n, -defs.EIO
	}
	f.off += int64(n)
	return n, 0
}

func (f *File) Fstat(st *Stat_t) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.vf.Stat()
	st.Size = int64(s.Size)
	st.IsDir = s.IsDir
	st.Blksize = int32(blkcache.SectorSize)
	if s.IsDir {
		st.Mode = 0040000
	} else {
		st.Mode = 0100000
	}
	return 0
}

func (f *File) Lseek(offset int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.off
	case 2:
		base = int64(f.vf.Stat().Size)
	default:
		return 0, -defs.EINVAL
	}
	newOff := base + int64(offset)
	if newOff < 0 {
		return 0, -defs.EINVAL
	}
	f.off = newOff
	return int(f.off), 0
}

func (f *File) Reopen() defs.Err_t {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return 0
}

func (f *File) Close() defs.Err_t {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()
	if last && f.closer != nil {
		f.closer()
	}
	return 0
}
