package syscall

import (
	"encoding/binary"
	"fmt"
	"time"

	"rvkernel/defs"
	"rvkernel/fatfs"
	"rvkernel/fd"
	"rvkernel/fdops"
	"rvkernel/klog"
	"rvkernel/mount"
	"rvkernel/proc"
	"rvkernel/ustr"
	"rvkernel/vmm"
)

// Dispatcher routes syscall numbers to their handlers against a given
// task and the kernel's single mount table.
type Dispatcher struct {
	Mounts *mount.Table
}

// NewDispatcher builds a Dispatcher over the given mount table.
func NewDispatcher(mounts *mount.Table) *Dispatcher {
	return &Dispatcher{Mounts: mounts}
}

// negErr encodes e as the negative a0 result. It accepts both a
// positive errno constant and an Err_t that is already negative (as
// the Fdops_i methods and proc.Task.CloseFD return); both yield -|e|.
func negErr(e defs.Err_t) uintptr {
	if e < 0 {
		e = -e
	}
	return uintptr(int64(-e))
}

// Handle decodes and executes one syscall, returning the value that
// would be placed in a0. This is what a trap handler would call after
// decoding a7/a0..a5.
func (d *Dispatcher) Handle(task *proc.Task, num uintptr, args [6]uintptr) uintptr {
	switch num {
	case SYS_GETCWD:
		return d.getcwd(task, args)
	case SYS_DUP:
		return d.dup(task, args)
	case SYS_DUP3:
		return d.dup3(task, args)
	case SYS_MKDIRAT:
		return d.mkdirat(task, args)
	case SYS_UNLINKAT:
		return d.unlinkat(task, args)
	case SYS_UMOUNT2:
		return d.umount2(task, args)
	case SYS_MOUNT:
		return d.mount(task, args)
	case SYS_CHDIR:
		return d.chdir(task, args)
	case SYS_OPENAT:
		return d.openat(task, args)
	case SYS_CLOSE:
		return d.close(task, args)
	case SYS_PIPE2:
		return d.pipe2(task, args)
	case SYS_GETDENTS64:
		return d.getdents64(task, args)
	case SYS_READ:
		return d.read(task, args)
	case SYS_WRITE:
		return d.write(task, args)
	case SYS_FSTAT:
		return d.fstat(task, args)
	case SYS_EXIT:
		task.Exit(int(int32(args[0])))
		return 0
	case SYS_NANOSLEEP:
		return d.nanosleep(task, args)
	case SYS_SCHED_YIELD:
		return 0
	case SYS_TIMES:
		return d.getTime(task, args)
	case SYS_UNAME:
		return d.uname(task, args)
	case SYS_GETPID:
		return uintptr(task.Getpid())
	case SYS_GETPPID:
		if task.Parent == nil {
			return negErr(defs.ESRCH)
		}
		return uintptr(task.Parent.Getpid())
	case SYS_BRK:
		return d.brk(task, args)
	case SYS_MUNMAP:
		return d.munmap(task, args)
	case SYS_FORK:
		return d.fork(task, args)
	case SYS_EXECVE:
		return d.execve(task, args)
	case SYS_MMAP:
		return d.mmap(task, args)
	case SYS_WAIT4:
		return d.wait4(task, args)
	default:
		return negErr(defs.ENOSYS)
	}
}

var (
	errNotSupported = fmt.Errorf("syscall: relative dirfd other than AT_FDCWD is not supported")
	errNoMount      = fmt.Errorf("syscall: no filesystem mounted over the resolved path")
)

func (d *Dispatcher) resolvePath(task *proc.Task, dirfd int, path string) (*fatfs.FS, ustr.Ustr, error) {
	var full ustr.Ustr
	if len(path) > 0 && path[0] == '/' {
		full = ustr.FromString(path)
	} else if dirfd == defs.AT_FDCWD {
		full = task.Cwd.Canonicalpath(ustr.FromString(path))
	} else {
		return nil, nil, errNotSupported
	}
	fs, rel, ok := d.Mounts.Resolve(full.String())
	if !ok {
		return nil, nil, errNoMount
	}
	return fs, ustr.FromString(rel), nil
}

func (d *Dispatcher) getcwd(task *proc.Task, args [6]uintptr) uintptr {
	path := task.Cwd.Path.String()
	n, err := writeUserBytes(task, uint64(args[0]), append([]byte(path), 0))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	return uintptr(n)
}

func (d *Dispatcher) dup(task *proc.Task, args [6]uintptr) uintptr {
	old := task.FD(int(args[0]))
	if old == nil {
		return negErr(defs.EBADF)
	}
	nf, errno := fd.Copyfd(old)
	if errno != 0 {
		return negErr(errno)
	}
	n := task.AllocFD()
	task.SetFD(n, nf)
	return uintptr(n)
}

func (d *Dispatcher) dup3(task *proc.Task, args [6]uintptr) uintptr {
	old := task.FD(int(args[0]))
	if old == nil {
		return negErr(defs.EBADF)
	}
	nf, errno := fd.Copyfd(old)
	if errno != 0 {
		return negErr(errno)
	}
	newFD := int(args[1])
	if existing := task.FD(newFD); existing != nil {
		task.CloseFD(newFD)
	}
	task.SetFD(newFD, nf)
	return uintptr(newFD)
}

func (d *Dispatcher) mkdirat(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[1]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	fs, rel, err := d.resolvePath(task, int(int32(args[0])), path)
	if err != nil {
		return negErr(defs.ENOENT)
	}
	if _, err := fs.Create(rel, true); err != nil {
		return negErr(defs.EEXIST)
	}
	return 0
}

func (d *Dispatcher) unlinkat(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[1]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	fs, rel, err := d.resolvePath(task, int(int32(args[0])), path)
	if err != nil {
		return negErr(defs.ENOENT)
	}
	if err := fs.Remove(rel); err != nil {
		return negErr(defs.ENOENT)
	}
	return 0
}

func (d *Dispatcher) umount2(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[0]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	d.Mounts.Unmount(path)
	return 0
}

// mount records the already-open fatfs.FS at the target path; a second
// on-disk filesystem type can never be mounted, so this only tags a new prefix onto the same volume.
func (d *Dispatcher) mount(task *proc.Task, args [6]uintptr) uintptr {
	tgt, err := readCString(task, uint64(args[1]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	root, _, ok := d.Mounts.Resolve("/")
	if !ok {
		return negErr(defs.ENOENT)
	}
	d.Mounts.Mount(tgt, root)
	return 0
}

func (d *Dispatcher) chdir(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[0]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	fs, rel, err := d.resolvePath(task, defs.AT_FDCWD, path)
	if err != nil {
		return negErr(defs.ENOENT)
	}
	vf, err := fs.FindByPath(rel)
	if err != nil || !vf.Stat().IsDir {
		return negErr(defs.ENOTDIR)
	}
	task.Cwd.Lock()
	task.Cwd.Path = task.Cwd.Canonicalpath(ustr.FromString(path))
	task.Cwd.Unlock()
	return 0
}

func (d *Dispatcher) openat(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[1]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	flags := int(int32(args[2]))
	fs, rel, err := d.resolvePath(task, int(int32(args[0])), path)
	if err != nil {
		return negErr(defs.ENOENT)
	}

	vf, err := fs.FindByPath(rel)
	if err != nil {
		if flags&defs.O_CREAT == 0 {
			return negErr(defs.ENOENT)
		}
		vf, err = fs.Create(rel, flags&defs.O_DIRECTORY != 0)
		if err != nil {
			return negErr(defs.ENOSPC)
		}
	} else if flags&defs.O_TRUNC != 0 {
		if err := vf.Clear(); err != nil {
			return negErr(defs.EIO)
		}
	}

	perms := fd.FD_READ
	if flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0 {
		perms |= fd.FD_WRITE
	}
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	var fops fdops.Fdops_i
	if vf.Stat().IsDir {
		fops = fdops.NewDirFile(vf, func() { fs.Release(vf) }, func() ([]fatfs.DirEntry, error) {
			return fs.ReaddirVFile(vf)
		})
	} else {
		fops = fdops.NewFile(vf, func() { fs.Release(vf) })
	}
	nf := &fd.Fd_t{Fops: fops, Perms: perms}
	n := task.AllocFD()
	task.SetFD(n, nf)
	return uintptr(n)
}

func (d *Dispatcher) close(task *proc.Task, args [6]uintptr) uintptr {
	if errno := task.CloseFD(int(args[0])); errno != 0 {
		return negErr(errno)
	}
	return 0
}

func (d *Dispatcher) pipe2(task *proc.Task, args [6]uintptr) uintptr {
	rfd, wfd := task.NewPipe()
	var pair [2]int32
	pair[0] = int32(rfd)
	pair[1] = int32(wfd)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pair[0]))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(pair[1]))
	if _, err := writeUserBytes(task, uint64(args[0]), buf); err != nil {
		return negErr(defs.EFAULT)
	}
	return 0
}

// getdents64 writes each visible directory entry's name as a
// NUL-terminated string, back to back, into the user buffer — a
// simplified stand-in for struct linux_dirent64's full field set.
func (d *Dispatcher) getdents64(task *proc.Task, args [6]uintptr) uintptr {
	f := task.FD(int(args[0]))
	if f == nil {
		return negErr(defs.EBADF)
	}
	file, ok := f.Fops.(*fdops.File)
	if !ok {
		return negErr(defs.ENOTDIR)
	}
	entries, err := file.Readdir()
	if err != nil {
		return negErr(defs.ENOTDIR)
	}
	bufLen := int(args[2])
	buf := make([]byte, 0, bufLen)
	for _, e := range entries {
		rec := append([]byte(e.LongName), 0)
		if len(buf)+len(rec) > bufLen {
			break
		}
		buf = append(buf, rec...)
	}
	n, werr := writeUserBytes(task, uint64(args[1]), buf)
	if werr != nil {
		return negErr(defs.EFAULT)
	}
	return uintptr(n)
}

func (d *Dispatcher) read(task *proc.Task, args [6]uintptr) uintptr {
	f := task.FD(int(args[0]))
	if f == nil {
		return negErr(defs.EBADF)
	}
	n := int(args[2])
	tmp := make([]byte, n)
	got, errno := f.Fops.Read(tmp)
	if errno != 0 {
		return negErr(errno)
	}
	if _, err := writeUserBytes(task, uint64(args[1]), tmp[:got]); err != nil {
		return negErr(defs.EFAULT)
	}
	return uintptr(got)
}

func (d *Dispatcher) write(task *proc.Task, args [6]uintptr) uintptr {
	f := task.FD(int(args[0]))
	if f == nil {
		return negErr(defs.EBADF)
	}
	n := int(args[2])
	tmp, err := readUserBytes(task, uint64(args[1]), n)
	if err != nil {
		return negErr(defs.EFAULT)
	}
	got, errno := f.Fops.Write(tmp)
	if errno != 0 {
		return negErr(errno)
	}
	return uintptr(got)
}

func (d *Dispatcher) fstat(task *proc.Task, args [6]uintptr) uintptr {
	f := task.FD(int(args[0]))
	if f == nil {
		return negErr(defs.EBADF)
	}
	var st fdops.Stat_t
	if errno := f.Fops.Fstat(&st); errno != 0 {
		return negErr(errno)
	}
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], st.Dev)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[16:20], st.Mode)
	binary.LittleEndian.PutUint32(buf[20:24], st.Nlink)
	if _, err := writeUserBytes(task, uint64(args[1]), buf); err != nil {
		return negErr(defs.EFAULT)
	}
	return 0
}

func (d *Dispatcher) nanosleep(task *proc.Task, args [6]uintptr) uintptr {
	raw, err := readUserBytes(task, uint64(args[0]), 16)
	if err != nil {
		return negErr(defs.EFAULT)
	}
	sec := int64(binary.LittleEndian.Uint64(raw[0:8]))
	usec := int64(binary.LittleEndian.Uint64(raw[8:16]))
	dur := time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
	time.Sleep(dur)
	return 0
}

func (d *Dispatcher) getTime(task *proc.Task, args [6]uintptr) uintptr {
	now := time.Now()
	tv := defs.TimeVal{Sec: now.Unix(), Usec: int64(now.Nanosecond() / 1000)}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(tv.Sec))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(tv.Usec))
	if _, err := writeUserBytes(task, uint64(args[0]), buf); err != nil {
		return negErr(defs.EFAULT)
	}
	return 0
}

func (d *Dispatcher) uname(task *proc.Task, args [6]uintptr) uintptr {
	u := defs.DefaultUtsname()
	buf := make([]byte, 0, 65*6)
	for _, field := range [][65]byte{u.Sysname, u.Nodename, u.Release, u.Version, u.Machine, u.Domainname} {
		buf = append(buf, field[:]...)
	}
	if _, err := writeUserBytes(task, uint64(args[0]), buf); err != nil {
		return negErr(defs.EFAULT)
	}
	return 0
}

func (d *Dispatcher) brk(task *proc.Task, args [6]uintptr) uintptr {
	brkAddr := uint64(args[0])
	var newPt uint64
	var err error
	if brkAddr == 0 {
		newPt, err = task.Sbrk(0)
	} else {
		cur, _ := task.Sbrk(0)
		newPt, err = task.Sbrk(int64(brkAddr) - int64(cur))
	}
	if err != nil {
		return negErr(defs.ENOMEM)
	}
	return uintptr(newPt)
}

func (d *Dispatcher) munmap(task *proc.Task, args [6]uintptr) uintptr {
	if !task.Munmap(uint64(args[0])) {
		return negErr(defs.EINVAL)
	}
	return 0
}

func (d *Dispatcher) fork(task *proc.Task, args [6]uintptr) uintptr {
	child, err := task.Fork()
	if err != nil {
		klog.L.WithError(err).Warn("syscall: fork failed")
		return negErr(defs.ENOMEM)
	}
	return uintptr(child.Getpid())
}

func (d *Dispatcher) execve(task *proc.Task, args [6]uintptr) uintptr {
	path, err := readCString(task, uint64(args[0]))
	if err != nil {
		return negErr(defs.EFAULT)
	}
	fs, rel, err := d.resolvePath(task, defs.AT_FDCWD, path)
	if err != nil {
		return negErr(defs.ENOENT)
	}
	vf, err := fs.FindByPath(rel)
	if err != nil {
		return negErr(defs.ENOENT)
	}
	data := make([]byte, vf.Stat().Size)
	if _, err := vf.ReadAt(data, 0); err != nil {
		return negErr(defs.EIO)
	}
	if err := task.Exec(data); err != nil {
		return negErr(defs.ENOEXEC)
	}
	return 0
}

func (d *Dispatcher) mmap(task *proc.Task, args [6]uintptr) uintptr {
	start := uint64(args[0])
	length := uint64(args[1])
	prot := uint32(args[2])
	flags := int(int32(args[3]))
	fdNum := int(int32(args[4]))
	off := int64(args[5])

	perm := vmm.PermU
	if prot&0b001 != 0 {
		perm |= vmm.PermR
	}
	if prot&0b010 != 0 {
		perm |= vmm.PermW
	}
	if prot&0b100 != 0 {
		perm |= vmm.PermX
	}

	addr, err := task.Mmap(start, length, perm, flags, fdNum, off)
	if err != nil {
		return negErr(defs.EINVAL)
	}
	return uintptr(addr)
}

func (d *Dispatcher) wait4(task *proc.Task, args [6]uintptr) uintptr {
	pid := int(int32(args[0]))
	foundPID, exitCode, status := task.Waitpid(pid)
	if status != 0 {
		return uintptr(int64(status))
	}
	if args[1] != 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(exitCode))<<8)
		writeUserBytes(task, uint64(args[1]), buf)
	}
	return uintptr(foundPID)
}
