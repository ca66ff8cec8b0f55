package vmm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameAllocatorRefcounting(t *testing.T) {
	fa := NewFrameAllocator(4)
	a, err := fa.Alloc()
	require.NoError(t, err)
	b, err := fa.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	fa.Refup(a)
	fa.Refdown(a) // still referenced once more
	fa.Refdown(a) // now freed

	// pool exhaustion: 4 capacity, 2 used (a freed and reusable, b held)
	c, err := fa.Alloc()
	require.NoError(t, err)
	d, err := fa.Alloc()
	require.NoError(t, err)
	_, err = fa.Alloc()
	require.NoError(t, err) // a's slot was freed, so one more fits
	_, err = fa.Alloc()
	require.Error(t, err, "pool of 4 frames must not hand out a 5th live frame")
	_ = c
	_ = d
}

func TestPageTableMapTranslateUnmap(t *testing.T) {
	fa := NewFrameAllocator(64)
	pt, err := NewPageTable(fa)
	require.NoError(t, err)

	ppn, err := fa.Alloc()
	require.NoError(t, err)
	require.NoError(t, pt.Map(5, ppn, PTEValid|PTERead|PTEWrite))

	pte, ok := pt.Translate(5)
	require.True(t, ok)
	require.Equal(t, ppn, pte.PPN())
	require.True(t, pte.Readable())
	require.True(t, pte.Writable())

	pt.Unmap(5)
	_, ok = pt.Translate(5)
	require.False(t, ok)
}

func TestMapAreaFramedCopyDataRoundTrip(t *testing.T) {
	fa := NewFrameAllocator(64)
	pt, err := NewPageTable(fa)
	require.NoError(t, err)

	area := NewMapArea(0x1000, 0x1000+PageSize+10, Framed, PermR|PermW|PermU)
	require.NoError(t, area.Map(pt, fa))

	data := bytes.Repeat([]byte{0xAB}, PageSize+10)
	require.NoError(t, area.CopyData(pt, fa, data))

	pte, ok := pt.Translate(area.StartVPN)
	require.True(t, ok)
	frame := fa.Get(pte.PPN())
	require.Equal(t, byte(0xAB), frame[0])
	require.Equal(t, byte(0xAB), frame[PageSize-1])
}

func TestAddressSpaceSbrkBounds(t *testing.T) {
	fa := NewFrameAllocator(256)
	as, err := NewBare(fa)
	require.NoError(t, err)
	as.HeapBottom = 0x10000
	as.HeapTop = 0x10000 + 4*PageSize
	as.HeapPt = as.HeapTop

	_, err = as.Sbrk(PageSize)
	require.Error(t, err, "growing past the heap's fixed top must fail")

	as.HeapPt = as.HeapBottom
	_, err = as.Sbrk(-1)
	require.Error(t, err, "shrinking below heap bottom must fail")

	newPt, err := as.Sbrk(0)
	require.NoError(t, err)
	require.Equal(t, as.HeapBottom, newPt)
}

type fakeReader struct{ data []byte }

func (f fakeReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func TestInsertMMapAreaPopulatesFromReader(t *testing.T) {
	fa := NewFrameAllocator(64)
	as, err := NewBare(fa)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x42}, PageSize)
	base, err := as.InsertMMapArea(0x20000, 0x20000+PageSize, PermR|PermW|PermU, 3, 0, 0, fakeReader{payload})
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), base)

	pte, ok := as.Translate(0x20000 / PageSize)
	require.True(t, ok)
	frame := fa.Get(pte.PPN())
	require.Equal(t, byte(0x42), frame[0])

	require.True(t, as.RemoveMMapAreaWithStartVPN(0x20000/PageSize))
	_, ok = as.Translate(0x20000 / PageSize)
	require.False(t, ok)
}

// buildMiniELF hand-assembles a minimal ELFCLASS64/EM_RISCV executable
// with one PT_LOAD segment, since we have no toolchain available to
// produce one.
func buildMiniELF(t *testing.T, vaddr, entry uint64, code []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))   // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(243)) // e_machine = EM_RISCV
	binary.Write(&buf, binary.LittleEndian, uint32(1))   // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint64(64)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(64)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(56)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shstrndx

	const dataOff = 64 + 56 // right after the Ehdr and the one Phdr
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(5)) // p_flags = R|X
	binary.Write(&buf, binary.LittleEndian, uint64(dataOff))
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(PageSize))

	buf.Write(code)
	return buf.Bytes()
}

func TestFromELFMapsSegmentAndStack(t *testing.T) {
	fa := NewFrameAllocator(256)
	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 4) // a handful of RISC-V nops
	elfData := buildMiniELF(t, 0x1000, 0x1000, code)

	as, userSP, entry, err := FromELF(fa, elfData, 2*PageSize, 4*PageSize)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), entry)
	require.Greater(t, userSP, uint64(0x1000))

	pte, ok := as.Translate(0x1000 / PageSize)
	require.True(t, ok)
	require.True(t, pte.Executable())
	frame := fa.Get(pte.PPN())
	require.Equal(t, code[:4], frame[0:4])
}

func TestFromExistedUserCopiesPages(t *testing.T) {
	fa := NewFrameAllocator(256)
	src, err := NewBare(fa)
	require.NoError(t, err)
	area := NewMapArea(0x4000, 0x4000+PageSize, Framed, PermR|PermW|PermU)
	require.NoError(t, src.pushArea(area, nil))
	require.NoError(t, area.CopyData(src.pt, fa, bytes.Repeat([]byte{0x7}, PageSize)))

	dst, err := FromExistedUser(fa, src)
	require.NoError(t, err)
	pte, ok := dst.Translate(0x4000 / PageSize)
	require.True(t, ok)
	frame := fa.Get(pte.PPN())
	require.Equal(t, byte(0x7), frame[0])

	srcPTE, _ := src.Translate(0x4000 / PageSize)
	require.NotEqual(t, srcPTE.PPN(), pte.PPN(), "clone must use its own frames, not share the source's")
}
