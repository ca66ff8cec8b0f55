// Package proc implements the process control block: the per-task
// address space, file descriptor table, parent/child tree and exit
// status the syscall layer drives.
package proc

import (
	"fmt"
	"io"
	"sync"

	"rvkernel/defs"
	"rvkernel/fd"
	"rvkernel/klog"
	"rvkernel/pipe"
	"rvkernel/stdio"
	"rvkernel/ustr"
	"rvkernel/vmm"
)

// Status is the task's scheduling state.
type Status int

const (
	Ready Status = iota
	Running
	Zombie
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Task is one process: an address space, an open-file table, and the
// bookkeeping waitpid needs. Every exported method locks the task's
// own mutex, so two tasks never contend on a shared global lock.
type Task struct {
	mu sync.Mutex

	PID    int
	Frames *vmm.FrameAllocator
	AS     *vmm.AddressSpace

	UserSP uint64
	Entry  uint64

	// TrapContextPPN is the physical frame backing the task's saved
	// trap register frame, copied out of AS at load/exec/fork time.
	TrapContextPPN uint64

	status   Status
	ExitCode int

	Cwd     *fd.Cwd_t
	fdTable []*fd.Fd_t

	Parent   *Task
	children []*Task

	userStackSize uint64
	userHeapSize  uint64
}

// New builds the first task from an ELF image: its own address space,
// a root working directory, and fd 0/1/2 wired to console. stderr
// aliases stdout's Fops unless stderrIndependent is set.
func New(elfData []byte, frames *vmm.FrameAllocator, userStackSize, userHeapSize uint64, stdin io.Reader, stdout io.Writer, stderrIndependent bool) (*Task, error) {
	as, sp, entry, err := vmm.FromELF(frames, elfData, userStackSize, userHeapSize)
	if err != nil {
		return nil, fmt.Errorf("proc: new: %w", err)
	}
	out := stdio.New(stdin, stdout)
	errOut := out
	if stderrIndependent {
		errOut = stdio.New(stdin, stdout)
	}
	t := &Task{
		PID:            pids.alloc(),
		Frames:         frames,
		AS:             as,
		UserSP:         sp,
		Entry:          entry,
		TrapContextPPN: as.TrapContextPPN,
		status:         Ready,
		userStackSize: userStackSize,
		userHeapSize:  userHeapSize,
		fdTable: []*fd.Fd_t{
			{Fops: out, Perms: fd.FD_READ},
			{Fops: out, Perms: fd.FD_WRITE},
			{Fops: errOut, Perms: fd.FD_WRITE},
		},
	}
	t.Cwd = fd.MkRootCwd(t.fdTable[0])
	klog.L.WithFields(klog.Fields{"pid": t.PID, "entry": fmt.Sprintf("%#x", entry)}).Info("proc: task created")
	return t, nil
}

// Getpid returns the task's PID.
func (t *Task) Getpid() int { return t.PID }

// Status reports the task's current scheduling state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Exec replaces the task's address space in place with a freshly
// loaded ELF image, adjusting the user stack pointer one word below
// the top to match the trap frame layout the entry point expects.
// Descriptors opened FD_CLOEXEC are closed first, since carrying them
// across exec unchanged would leak them into the new image.
func (t *Task) Exec(elfData []byte) error {
	as, sp, entry, err := vmm.FromELF(t.Frames, elfData, t.userStackSize, t.userHeapSize)
	if err != nil {
		return fmt.Errorf("proc: exec: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, f := range t.fdTable {
		if f != nil && f.Perms&fd.FD_CLOEXEC != 0 {
			fd.Close_panic(f)
			t.fdTable[i] = nil
		}
	}
	old := t.AS
	t.AS = as
	t.UserSP = sp - 8
	t.Entry = entry
	t.TrapContextPPN = as.TrapContextPPN
	old.Destroy()
	return nil
}

// Fork clones the task into a new child: the address space is copied
// page-for-page (no copy-on-write), the fd table is shallow-copied
// (each descriptor reopened so refcounts stay correct), and the child
// is linked into the parent's children list.
func (t *Task) Fork() (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	as, err := vmm.FromExistedUser(t.Frames, t.AS)
	if err != nil {
		return nil, fmt.Errorf("proc: fork: %w", err)
	}

	child := &Task{
		PID:            pids.alloc(),
		Frames:         t.Frames,
		AS:             as,
		UserSP:         t.UserSP,
		Entry:          t.Entry,
		TrapContextPPN: as.TrapContextPPN,
		status:         Ready,
		userStackSize: t.userStackSize,
		userHeapSize:  t.userHeapSize,
		Parent:        t,
	}
	child.fdTable = make([]*fd.Fd_t, len(t.fdTable))
	for i, f := range t.fdTable {
		if f == nil {
			continue
		}
		nf, errno := fd.Copyfd(f)
		if errno != 0 {
			return nil, fmt.Errorf("proc: fork: reopen fd %d: errno %d", i, errno)
		}
		child.fdTable[i] = nf
	}
	child.Cwd = &fd.Cwd_t{Fd: child.fdTable[0], Path: append(ustr.Ustr{}, t.Cwd.Path...)}

	t.children = append(t.children, child)
	return child, nil
}

// Waitpid looks for a zombie child matching pid (-1 matches any
// child), reaping it if found. status is -1 if no child matches pid at
// all, -2 if a matching child exists but none is a zombie yet, and 0 on
// success.
func (t *Task) Waitpid(pid int) (foundPID int, exitCode int, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	anyMatch := false
	idx := -1
	for i, c := range t.children {
		if pid == -1 || c.Getpid() == pid {
			anyMatch = true
			if c.Status() == Zombie {
				idx = i
				break
			}
		}
	}
	if !anyMatch {
		return 0, 0, -1
	}
	if idx < 0 {
		return 0, 0, -2
	}
	child := t.children[idx]
	t.children = append(t.children[:idx], t.children[idx+1:]...)
	pids.release(child.PID)
	return child.PID, child.ExitCode, 0
}

// Exit marks the task a zombie with the given exit code, releasing
// every open descriptor. Children are not reparented; they simply become unreachable once
// this task's entry is removed from its own parent's children.
func (t *Task) Exit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == Zombie {
		return
	}
	for _, f := range t.fdTable {
		if f != nil {
			fd.Close_panic(f)
		}
	}
	t.fdTable = nil
	t.status = Zombie
	t.ExitCode = code
}

// AllocFD returns the lowest-numbered free descriptor slot, growing
// the table by one if every slot is taken.
func (t *Task) AllocFD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocFDLocked()
}

func (t *Task) allocFDLocked() int {
	for i, f := range t.fdTable {
		if f == nil {
			return i
		}
	}
	t.fdTable = append(t.fdTable, nil)
	return len(t.fdTable) - 1
}

// SetFD installs f at descriptor number n, growing the table if n is
// beyond its current length.
func (t *Task) SetFD(n int, f *fd.Fd_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.fdTable) <= n {
		t.fdTable = append(t.fdTable, nil)
	}
	t.fdTable[n] = f
}

// FD returns the descriptor at n, or nil if it isn't open.
func (t *Task) FD(n int) *fd.Fd_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.fdTable) {
		return nil
	}
	return t.fdTable[n]
}

// CloseFD closes and clears descriptor n.
func (t *Task) CloseFD(n int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.fdTable) || t.fdTable[n] == nil {
		return -defs.EBADF
	}
	err := t.fdTable[n].Fops.Close()
	t.fdTable[n] = nil
	return err
}

// NewPipe allocates a connected pipe pair and installs them at two
// fresh descriptor numbers, returning (readFD, writeFD).
func (t *Task) NewPipe() (int, int) {
	r, w := pipe.New()
	t.mu.Lock()
	defer t.mu.Unlock()
	rfd := t.allocFDLocked()
	t.fdTable[rfd] = &fd.Fd_t{Fops: r, Perms: fd.FD_READ}
	wfd := t.allocFDLocked()
	t.fdTable[wfd] = &fd.Fd_t{Fops: w, Perms: fd.FD_WRITE}
	return rfd, wfd
}

// Sbrk grows or shrinks the heap break by increment bytes (0 just
// queries it), returning the new break.
func (t *Task) Sbrk(increment int64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.AS.Sbrk(increment)
}

// Mmap maps len bytes from fd at the given file offset. If start is
// nonzero it must be page-aligned and its VPN range must not already
// be mapped; if zero, the task picks the first address above every
// existing mapping. Returns the resulting address, or an error if the
// request is invalid.
func (t *Task) Mmap(start, length uint64, perm vmm.MapPermission, flags int, fdNum int, offset int64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reader vmm.FileReader
	if fdNum >= 0 && fdNum < len(t.fdTable) && t.fdTable[fdNum] != nil {
		if r, ok := t.fdTable[fdNum].Fops.(interface {
			ReadAt(p []byte, off int64) (int, error)
		}); ok {
			reader = r
		}
	}

	if start != 0 {
		if start%vmm.PageSize != 0 {
			return 0, fmt.Errorf("proc: mmap: address %#x is not page-aligned", start)
		}
		startVPN := start / vmm.PageSize
		endVPN := (start + length + vmm.PageSize - 1) / vmm.PageSize
		for vpn := startVPN; vpn < endVPN; vpn++ {
			if _, ok := t.AS.Translate(vpn); ok {
				return 0, fmt.Errorf("proc: mmap: address range at %#x is already mapped", start)
			}
		}
		return t.AS.InsertMMapArea(start, start+length, perm, fdNum, offset, flags, reader)
	}

	base := t.AS.MaxVPN() * vmm.PageSize
	return t.AS.InsertMMapArea(base, base+length, perm, fdNum, offset, flags, reader)
}

// Munmap removes the mmap region starting at start. It reports whether
// a matching region was found.
func (t *Task) Munmap(start uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.AS.RemoveMMapAreaWithStartVPN(start / vmm.PageSize)
}
