// Package fdops defines the operations every open file description
// must support, so proc's FD table can hold files, directories, pipes
// and devices behind one interface.
package fdops

import "rvkernel/defs"

// Fdops_i is what fd.Fd_t calls through. Every file-like kernel object
// — a regular VFile, a directory, a pipe end, the console, mmap'd
// file-backing — implements it.
type Fdops_i interface {
	// Read copies up to len(dst) bytes starting at the descriptor's
	// current offset into dst, advancing the offset.
	Read(dst []byte) (int, defs.Err_t)
	// Write writes len(src) bytes at the descriptor's current offset,
	// advancing the offset. O_APPEND is not applied: a write always
	// starts at the current offset, not at EOF.
	Write(src []byte) (int, defs.Err_t)
	// Fstat fills st with the descriptor's metadata.
	Fstat(st *Stat_t) defs.Err_t
	// Lseek repositions the descriptor's offset per whence (0=set,
	// 1=cur, 2=end) and returns the new offset.
	Lseek(offset int, whence int) (int, defs.Err_t)
	// Reopen is called when a descriptor is duplicated (dup/fork) so
	// the implementation can bump any internal refcount.
	Reopen() defs.Err_t
	// Close releases the descriptor's reference to its underlying
	// object, destroying it once nothing else holds a reference.
	Close() defs.Err_t
}

// Stat_t is the subset of POSIX struct stat the kernel tracks.
type Stat_t struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	Size    int64
	IsDir   bool
	Blksize int32
}

// SetDev packs major/minor into the Stat_t's Dev field using the same
// encoding as defs.Mkdev.
func (s *Stat_t) SetDev(maj, min int) { s.Dev = defs.Mkdev(maj, min) }
