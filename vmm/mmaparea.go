package vmm

import "fmt"

// FileReader is the minimal file-backing capability an mmap'd region
// needs. fdops/fatfs.VFile satisfies it; vmm only depends on the shape,
// not the concrete type, so the memory manager never imports the
// filesystem package.
type FileReader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// MMapArea is a Framed region populated from a file descriptor's
// contents at Map time.
type MMapArea struct {
	StartVPN uint64
	EndVPN   uint64
	perm     MapPermission
	frames   map[uint64]uint64
	FD       int
	Offset   int64
	Flags    int
	Length   int
}

// NewMMapArea mirrors MMapArea::new: length is measured from the
// page-rounded virtual range, not the caller's raw request size.
func NewMMapArea(startVA, endVA uint64, perm MapPermission, fd int, offset int64, flags int) *MMapArea {
	startVPN := floorPage(startVA)
	endVPN := ceilPage(endVA)
	return &MMapArea{
		StartVPN: startVPN,
		EndVPN:   endVPN,
		perm:     perm,
		frames:   make(map[uint64]uint64),
		FD:       fd,
		Offset:   offset,
		Flags:    flags,
		Length:   int((endVPN - startVPN) * PageSize),
	}
}

// Map allocates a frame per page, then — if fd names a readable file —
// reads Length bytes from it at Offset into the freshly mapped region,
// returning the region's base virtual address, or 0 when fd is
// negative (anonymous mapping) or unreadable.
func (m *MMapArea) Map(pt *PageTable, frames *FrameAllocator, reader FileReader) (uint64, error) {
	for vpn := m.StartVPN; vpn < m.EndVPN; vpn++ {
		ppn, err := frames.Alloc()
		if err != nil {
			return 0, fmt.Errorf("vmm: mmap area: %w", err)
		}
		m.frames[vpn] = ppn
		if err := pt.Map(vpn, ppn, uint64(m.perm)); err != nil {
			return 0, err
		}
	}
	base := m.StartVPN * PageSize
	if m.FD < 0 || reader == nil {
		return 0, nil
	}
	buf := make([]byte, m.Length)
	n, err := reader.ReadAt(buf, m.Offset)
	if err != nil && n == 0 {
		return 0, nil
	}
	off := 0
	vpn := m.StartVPN
	for off < n {
		ppn := m.frames[vpn]
		end := off + PageSize
		if end > n {
			end = n
		}
		copy(frames.Get(ppn)[:], buf[off:end])
		off = end
		vpn++
	}
	return base, nil
}

// Unmap releases every frame the region owns.
func (m *MMapArea) Unmap(pt *PageTable, frames *FrameAllocator) {
	for vpn := m.StartVPN; vpn < m.EndVPN; vpn++ {
		if ppn, ok := m.frames[vpn]; ok {
			frames.Refdown(ppn)
			delete(m.frames, vpn)
		}
		pt.Unmap(vpn)
	}
}
