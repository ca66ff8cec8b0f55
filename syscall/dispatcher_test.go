package syscall

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/blkcache"
	"rvkernel/defs"
	"rvkernel/fatfs"
	"rvkernel/mount"
	"rvkernel/proc"
	"rvkernel/vmm"
)

// memDisk is the same in-memory blkcache.BlockDevice used by the fatfs
// package's own tests, duplicated here since it isn't exported.
type memDisk struct {
	sectors map[int][blkcache.SectorSize]byte
}

func newMemDisk() *memDisk { return &memDisk{sectors: make(map[int][blkcache.SectorSize]byte)} }

func (m *memDisk) ReadBlock(sector int, buf []byte) error {
	s := m.sectors[sector]
	copy(buf, s[:])
	return nil
}

func (m *memDisk) WriteBlock(sector int, buf []byte) error {
	var s [blkcache.SectorSize]byte
	copy(s[:], buf)
	m.sectors[sector] = s
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *proc.Task) {
	t.Helper()
	dev := newMemDisk()
	opt := fatfs.DefaultFormatOptions()
	opt.SectorCount = 2048
	require.NoError(t, fatfs.FormatImage(dev, opt))
	fs, err := fatfs.Mount(dev, 16)
	require.NoError(t, err)

	mounts := mount.New()
	mounts.Mount("/", fs)
	d := NewDispatcher(mounts)

	fa := vmm.NewFrameAllocator(4096)
	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 4)
	elfData := buildMiniELF(t, 0x1000, 0x1000, code)
	task, err := proc.New(elfData, fa, 2*vmm.PageSize, 4*vmm.PageSize, strings.NewReader(""), &bytes.Buffer{}, false)
	require.NoError(t, err)
	return d, task
}

// buildMiniELF constructs a minimal ELFCLASS64/EM_RISCV image with a
// single R|W|X segment, the same technique proc's own tests use.
func buildMiniELF(t *testing.T, vaddr, entry uint64, code []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(243))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint64(64))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(64))
	binary.Write(&buf, binary.LittleEndian, uint16(56))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))

	const dataOff = 64 + 56
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(7)) // R|W|X
	binary.Write(&buf, binary.LittleEndian, uint64(dataOff))
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(vmm.PageSize))

	buf.Write(code)
	return buf.Bytes()
}

// scratch returns an address inside task's heap area, a safe landing
// spot for syscall argument buffers regardless of how the ELF image
// and stack happened to size out.
func scratch(task *proc.Task) uint64 {
	return task.AS.HeapBottom + 0x100
}

// atFDCWD holds defs.AT_FDCWD in a variable: the constant is negative,
// so converting it to uintptr directly does not compile.
var atFDCWD = defs.AT_FDCWD

func TestOpenatWriteReadClose(t *testing.T) {
	d, task := newTestDispatcher(t)

	pathVA := scratch(task)
	path := "/greeting.txt\x00"
	_, err := writeUserBytes(task, pathVA, []byte(path))
	require.NoError(t, err)

	fdNum := d.Handle(task, SYS_OPENAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(pathVA), uintptr(defs.O_CREAT | defs.O_RDWR), 0, 0, 0,
	})
	require.Less(t, uint64(fdNum), uint64(1)<<31)
	require.GreaterOrEqual(t, int(fdNum), 3)

	payloadVA := pathVA + 64
	payload := []byte("hello, fat32")
	_, err = writeUserBytes(task, payloadVA, payload)
	require.NoError(t, err)

	n := d.Handle(task, SYS_WRITE, [6]uintptr{fdNum, uintptr(payloadVA), uintptr(len(payload)), 0, 0, 0})
	require.Equal(t, uintptr(len(payload)), n)

	// rewind via close+reopen, since this dispatcher has no lseek
	require.Equal(t, uintptr(0), d.Handle(task, SYS_CLOSE, [6]uintptr{fdNum, 0, 0, 0, 0, 0}))

	fdNum = d.Handle(task, SYS_OPENAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(pathVA), uintptr(defs.O_RDONLY), 0, 0, 0,
	})
	require.GreaterOrEqual(t, int(fdNum), 3)

	readVA := payloadVA + 64
	got := d.Handle(task, SYS_READ, [6]uintptr{fdNum, uintptr(readVA), uintptr(len(payload)), 0, 0, 0})
	require.Equal(t, uintptr(len(payload)), got)

	readBack, err := readUserBytes(task, readVA, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, readBack)

	require.Equal(t, uintptr(0), d.Handle(task, SYS_CLOSE, [6]uintptr{fdNum, 0, 0, 0, 0, 0}))
}

func TestMkdiratAndGetdents64(t *testing.T) {
	d, task := newTestDispatcher(t)

	dirVA := scratch(task)
	_, err := writeUserBytes(task, dirVA, []byte("/sub\x00"))
	require.NoError(t, err)
	require.Equal(t, uintptr(0), d.Handle(task, SYS_MKDIRAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(dirVA), 0, 0, 0, 0,
	}))

	fileVA := dirVA + 64
	_, err = writeUserBytes(task, fileVA, []byte("/sub/a.txt\x00"))
	require.NoError(t, err)
	fdNum := d.Handle(task, SYS_OPENAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(fileVA), uintptr(defs.O_CREAT | defs.O_RDWR), 0, 0, 0,
	})
	require.GreaterOrEqual(t, int(fdNum), 3)
	require.Equal(t, uintptr(0), d.Handle(task, SYS_CLOSE, [6]uintptr{fdNum, 0, 0, 0, 0, 0}))

	subDirVA := fileVA + 64
	_, err = writeUserBytes(task, subDirVA, []byte("/sub\x00"))
	require.NoError(t, err)
	dirFD := d.Handle(task, SYS_OPENAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(subDirVA), uintptr(defs.O_DIRECTORY | defs.O_RDONLY), 0, 0, 0,
	})
	require.GreaterOrEqual(t, int(dirFD), 3)

	listVA := subDirVA + 64
	n := d.Handle(task, SYS_GETDENTS64, [6]uintptr{dirFD, uintptr(listVA), 256, 0, 0, 0})
	require.Greater(t, int(n), 0)

	raw, err := readUserBytes(task, listVA, int(n))
	require.NoError(t, err)
	require.Contains(t, string(raw), "a.txt")
}

func TestChdirAndGetcwd(t *testing.T) {
	d, task := newTestDispatcher(t)

	dirVA := scratch(task)
	_, err := writeUserBytes(task, dirVA, []byte("/home\x00"))
	require.NoError(t, err)
	require.Equal(t, uintptr(0), d.Handle(task, SYS_MKDIRAT, [6]uintptr{
		uintptr(atFDCWD), uintptr(dirVA), 0, 0, 0, 0,
	}))
	require.Equal(t, uintptr(0), d.Handle(task, SYS_CHDIR, [6]uintptr{uintptr(dirVA), 0, 0, 0, 0, 0}))

	cwdVA := dirVA + 64
	n := d.Handle(task, SYS_GETCWD, [6]uintptr{uintptr(cwdVA), 64, 0, 0, 0, 0})
	require.Greater(t, int(n), 0)

	raw, err := readUserBytes(task, cwdVA, int(n))
	require.NoError(t, err)
	require.Equal(t, "/home\x00", string(raw))
}

func TestForkAndWait4(t *testing.T) {
	d, task := newTestDispatcher(t)

	childPID := d.Handle(task, SYS_FORK, [6]uintptr{0, 0, 0, 0, 0, 0})
	require.NotZero(t, childPID)

	status := d.Handle(task, SYS_WAIT4, [6]uintptr{childPID, 0, 0, 0, 0, 0})
	require.Equal(t, uintptr(int64(-2)), status)

	require.Nil(t, task.Parent)
}

func TestMmapThenMunmap(t *testing.T) {
	d, task := newTestDispatcher(t)

	addr := d.Handle(task, SYS_MMAP, [6]uintptr{
		0, uintptr(vmm.PageSize), 0b011 /* PROT_READ|PROT_WRITE */, 0, uintptr(^uint64(0)), 0,
	})
	require.NotZero(t, addr)

	require.Equal(t, uintptr(0), d.Handle(task, SYS_MUNMAP, [6]uintptr{addr, uintptr(vmm.PageSize), 0, 0, 0, 0}))
	require.Equal(t, negErr(defs.EINVAL), d.Handle(task, SYS_MUNMAP, [6]uintptr{addr, uintptr(vmm.PageSize), 0, 0, 0, 0}))
}

func TestGetpidAndGetppid(t *testing.T) {
	d, task := newTestDispatcher(t)
	require.Equal(t, uintptr(task.Getpid()), d.Handle(task, SYS_GETPID, [6]uintptr{}))
	require.Equal(t, negErr(defs.ESRCH), d.Handle(task, SYS_GETPPID, [6]uintptr{}))
}
