// Package fd implements the open-file-descriptor and working-directory
// types every process's FD table is built from, layered over
// fdops.Fdops_i and the ustr/bpath packages.
package fd

import (
	"sync"

	"rvkernel/bpath"
	"rvkernel/defs"
	"rvkernel/fdops"
	"rvkernel/ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents an open file descriptor: a reference to an
// fdops.Fdops_i plus the permission bits this particular descriptor was
// opened with (two descriptors can point at the same pipe end with
// different permissions after dup).
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening the underlying
// object, the way dup/fork/exec-without-cloexec all want.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes fd and panics if the underlying object refuses,
// which would mean a refcount got out of sync.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks a task's current working directory.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Canonicalpath resolves p relative to cwd into a canonical absolute
// path, collapsing "." and "..".
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/" with fd as its directory
// descriptor.
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
	return c
}
