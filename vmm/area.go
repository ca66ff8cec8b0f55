package vmm

import "fmt"

// MapType selects how a MapArea's virtual pages back onto physical
// frames.
type MapType int

const (
	// Identical maps vpn straight onto the physical frame numbered vpn,
	// used for the kernel's own identity-mapped regions.
	Identical MapType = iota
	// Framed allocates a fresh physical frame per virtual page.
	Framed
)

// MapPermission mirrors the PTE R/W/X/U bits a region is mapped with.
type MapPermission uint64

const (
	PermR MapPermission = MapPermission(PTERead)
	PermW MapPermission = MapPermission(PTEWrite)
	PermX MapPermission = MapPermission(PTEExecute)
	PermU MapPermission = MapPermission(PTEUser)
)

func ceilPage(addr uint64) uint64  { return (addr + PageSize - 1) / PageSize }
func floorPage(addr uint64) uint64 { return addr / PageSize }

// MapArea is a contiguous run of virtual pages mapped with one
// map type and permission set.
type MapArea struct {
	StartVPN uint64
	EndVPN   uint64
	mapType  MapType
	perm     MapPermission
	frames   map[uint64]uint64 // vpn -> ppn, only for Framed areas
}

// NewMapArea describes the region [startVA, endVA), rounding outward
// to whole pages exactly as MapArea::new does.
func NewMapArea(startVA, endVA uint64, mapType MapType, perm MapPermission) *MapArea {
	return &MapArea{
		StartVPN: floorPage(startVA),
		EndVPN:   ceilPage(endVA),
		mapType:  mapType,
		perm:     perm,
		frames:   make(map[uint64]uint64),
	}
}

// cloneShape returns a fresh MapArea with the same range/type/perm but
// no mapped frames, for use by FromExistedUser.
func (m *MapArea) cloneShape() *MapArea {
	return &MapArea{StartVPN: m.StartVPN, EndVPN: m.EndVPN, mapType: m.mapType, perm: m.perm, frames: make(map[uint64]uint64)}
}

func (m *MapArea) mapOne(pt *PageTable, frames *FrameAllocator, vpn uint64) error {
	var ppn uint64
	switch m.mapType {
	case Identical:
		ppn = vpn
	case Framed:
		p, err := frames.Alloc()
		if err != nil {
			return err
		}
		ppn = p
		m.frames[vpn] = ppn
	}
	return pt.Map(vpn, ppn, uint64(m.perm))
}

// Map installs every page in the region into pt.
func (m *MapArea) Map(pt *PageTable, frames *FrameAllocator) error {
	for vpn := m.StartVPN; vpn < m.EndVPN; vpn++ {
		if err := m.mapOne(pt, frames, vpn); err != nil {
			return fmt.Errorf("vmm: map area [%#x,%#x): %w", m.StartVPN, m.EndVPN, err)
		}
	}
	return nil
}

// Unmap removes the region's pages from pt and releases any frames it
// owns.
func (m *MapArea) Unmap(pt *PageTable, frames *FrameAllocator) {
	for vpn := m.StartVPN; vpn < m.EndVPN; vpn++ {
		if m.mapType == Framed {
			if ppn, ok := m.frames[vpn]; ok {
				frames.Refdown(ppn)
				delete(m.frames, vpn)
			}
		}
		pt.Unmap(vpn)
	}
}

// CopyData writes data into the area's pages starting at StartVPN,
// page by page.
func (m *MapArea) CopyData(pt *PageTable, frames *FrameAllocator, data []byte) error {
	if m.mapType != Framed {
		return fmt.Errorf("vmm: CopyData requires a Framed area")
	}
	vpn := m.StartVPN
	off := 0
	for off < len(data) {
		ppn, ok := m.frames[vpn]
		if !ok {
			return fmt.Errorf("vmm: CopyData: vpn %#x not mapped", vpn)
		}
		end := off + PageSize
		if end > len(data) {
			end = len(data)
		}
		copy(frames.Get(ppn)[:], data[off:end])
		off = end
		vpn++
	}
	return nil
}
