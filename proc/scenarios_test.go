package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/defs"
	"rvkernel/fatfs"
	"rvkernel/fd"
	"rvkernel/fdops"
	"rvkernel/vmm"
)

// TestScenarioForkChildSbrkIsIndependentOfParent is the fork/brk
// scenario: the child's break starts at the parent's break, a child
// sbrk(64) moves only the child's break, and the parent's break is
// unaffected.
func TestScenarioForkChildSbrkIsIndependentOfParent(t *testing.T) {
	parent := newTestTask(t)
	parentBreak := parent.AS.HeapPt

	child, err := parent.Fork()
	require.NoError(t, err)
	require.Equal(t, parentBreak, child.AS.HeapPt)

	// the heap area is pre-mapped fully grown, so the break starts at
	// its top; move it down first to leave room to grow back up.
	_, err = child.Sbrk(-128)
	require.NoError(t, err)
	childBreakBeforeGrowth := child.AS.HeapPt

	newBreak, err := child.Sbrk(64)
	require.NoError(t, err)
	require.Equal(t, childBreakBeforeGrowth+64, newBreak)

	require.Equal(t, parentBreak, parent.AS.HeapPt)
}

// memFile is a minimal fatfs.VFile-shaped in-memory file, satisfying
// fdops.File's seekable interface structurally.
type memFile struct {
	data []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], p)
	return len(p), nil
}

func (m *memFile) Stat() fatfs.Stat { return fatfs.Stat{Size: uint32(len(m.data))} }

// TestScenarioMmapFileBackedThenMunmap is the mmap scenario: mmap a
// file containing "hello world!\n" at offset 0, check the bytes landed
// at the returned base, munmap it, and confirm the range is
// unmapped afterward.
func TestScenarioMmapFileBackedThenMunmap(t *testing.T) {
	task := newTestTask(t)

	greeting := "hello world!\n"
	f := &memFile{data: []byte(greeting)}
	fdNum := task.AllocFD()
	task.SetFD(fdNum, &fd.Fd_t{Fops: fdops.NewFile(f, nil), Perms: defs.O_RDONLY})

	base, err := task.Mmap(0, vmm.PageSize, vmm.PermR|vmm.PermW|vmm.PermU, 0, fdNum, 0)
	require.NoError(t, err)
	require.NotZero(t, base)

	ub := vmm.NewUserBuffer(task.AS, base, len(greeting))
	got := make([]byte, len(greeting))
	n, err := ub.Uioread(got)
	require.NoError(t, err)
	require.Equal(t, len(greeting), n)
	require.Equal(t, greeting, string(got))

	require.True(t, task.Munmap(base))

	_, ok := task.AS.Translate(base / vmm.PageSize)
	require.False(t, ok)
}
