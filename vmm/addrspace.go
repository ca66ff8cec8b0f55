package vmm

import (
	"fmt"

	"rvkernel/elfload"
)

// KernelRegion describes one identity-mapped slice of kernel memory.
// A hosted Go process has no .text/.rodata/.bss linker symbols to read
// off a boot image, so the caller supplies the regions (from
// config.BootConfig or a platform descriptor) instead.
type KernelRegion struct {
	Start uint64
	End   uint64
	Perm  MapPermission
}

// sv39VPNBits is the width of a virtual page number across Sv39's
// three 9-bit page table levels.
const sv39VPNBits = 27

// Trampoline is the fixed virtual address at the very top of the
// Sv39 address space every task's trap handling would run from.
// TrapContext sits directly below it: the per-task saved register
// frame a trap handler reads and writes. Real trap entry/exit
// assembly is out of scope; only the frame these two pages would
// occupy is modeled here.
var (
	Trampoline  uint64 = (uint64(1)<<sv39VPNBits)*PageSize - PageSize
	TrapContext uint64 = Trampoline - PageSize
)

// AddressSpace is one process's (or the kernel's) virtual memory view:
// a page table plus the MapArea/MMapArea regions that justify every
// mapping in it.
type AddressSpace struct {
	pt        *PageTable
	frames    *FrameAllocator
	areas     []*MapArea
	mmapAreas []*MMapArea

	HeapBottom uint64
	HeapTop    uint64
	HeapPt     uint64

	// TrapContextPPN is the physical frame backing the TrapContext
	// page in this address space.
	TrapContextPPN uint64
}

// NewBare returns an AddressSpace with an empty page table and no
// regions.
func NewBare(frames *FrameAllocator) (*AddressSpace, error) {
	pt, err := NewPageTable(frames)
	if err != nil {
		return nil, err
	}
	return &AddressSpace{pt: pt, frames: frames}, nil
}

func (as *AddressSpace) pushArea(area *MapArea, data []byte) error {
	if err := area.Map(as.pt, as.frames); err != nil {
		return err
	}
	if data != nil {
		if err := area.CopyData(as.pt, as.frames, data); err != nil {
			return err
		}
	}
	as.areas = append(as.areas, area)
	return nil
}

// NewKernelSpace builds the identity-mapped address space the kernel
// itself runs in, from the caller-supplied region list.
func NewKernelSpace(frames *FrameAllocator, regions []KernelRegion) (*AddressSpace, error) {
	as, err := NewBare(frames)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		area := NewMapArea(r.Start, r.End, Identical, r.Perm)
		if err := as.pushArea(area, nil); err != nil {
			return nil, fmt.Errorf("vmm: map kernel region [%#x,%#x): %w", r.Start, r.End, err)
		}
	}
	return as, nil
}

// FromELF builds a fresh user address space from an ELF image: every
// PT_LOAD segment framed-mapped with its own permissions, a guard page
// plus stack above the highest segment, and a heap region above the
// stack.
func FromELF(frames *FrameAllocator, elfData []byte, userStackSize, userHeapSize uint64) (as *AddressSpace, userSP uint64, entry uint64, err error) {
	img, err := elfload.Load(elfData)
	if err != nil {
		return nil, 0, 0, err
	}
	as, err = NewBare(frames)
	if err != nil {
		return nil, 0, 0, err
	}

	var maxEndVPN uint64
	for _, seg := range img.Segments {
		perm := PermU
		if seg.Readable {
			perm |= PermR
		}
		if seg.Writable {
			perm |= PermW
		}
		if seg.Executable {
			perm |= PermX
		}
		area := NewMapArea(seg.VAddr, seg.VAddr+seg.MemSize, Framed, perm)
		if err := as.pushArea(area, seg.Data); err != nil {
			return nil, 0, 0, fmt.Errorf("vmm: map segment at %#x: %w", seg.VAddr, err)
		}
		if area.EndVPN > maxEndVPN {
			maxEndVPN = area.EndVPN
		}
	}

	userStackBottom := maxEndVPN*PageSize + PageSize // guard page
	userStackTop := userStackBottom + userStackSize
	if err := as.pushArea(NewMapArea(userStackBottom, userStackTop, Framed, PermR|PermW|PermU), nil); err != nil {
		return nil, 0, 0, err
	}

	userHeapBottom := userStackTop + PageSize // guard page
	userHeapTop := userHeapBottom + userHeapSize
	if err := as.pushArea(NewMapArea(userHeapBottom, userHeapTop, Framed, PermR|PermW|PermU), nil); err != nil {
		return nil, 0, 0, err
	}
	as.HeapBottom = userHeapBottom
	as.HeapTop = userHeapTop
	as.HeapPt = userHeapTop

	trapArea := NewMapArea(TrapContext, Trampoline, Framed, PermR|PermW)
	if err := as.pushArea(trapArea, nil); err != nil {
		return nil, 0, 0, fmt.Errorf("vmm: map trap context: %w", err)
	}
	trapPTE, ok := as.Translate(TrapContext / PageSize)
	if !ok {
		return nil, 0, 0, fmt.Errorf("vmm: trap context not mapped")
	}
	as.TrapContextPPN = trapPTE.PPN()

	return as, userStackTop, img.Entry, nil
}

// FromExistedUser clones src into a brand new address space with
// freshly allocated frames holding copies of every mapped page (no
// copy-on-write).
func FromExistedUser(frames *FrameAllocator, src *AddressSpace) (*AddressSpace, error) {
	dst, err := NewBare(frames)
	if err != nil {
		return nil, err
	}
	for _, area := range src.areas {
		newArea := area.cloneShape()
		if err := dst.pushArea(newArea, nil); err != nil {
			return nil, err
		}
		for vpn := area.StartVPN; vpn < area.EndVPN; vpn++ {
			srcPTE, ok := src.pt.Translate(vpn)
			if !ok {
				continue
			}
			dstPTE, ok := dst.pt.Translate(vpn)
			if !ok {
				continue
			}
			srcBytes := frames.Get(srcPTE.PPN())
			dstBytes := frames.Get(dstPTE.PPN())
			*dstBytes = *srcBytes
		}
	}
	for _, m := range src.mmapAreas {
		nm := NewMMapArea(m.StartVPN*PageSize, m.EndVPN*PageSize, m.perm, m.FD, m.Offset, m.Flags)
		if _, err := nm.Map(dst.pt, frames, nil); err != nil {
			return nil, err
		}
		for vpn, srcPPN := range m.frames {
			*frames.Get(nm.frames[vpn]) = *frames.Get(srcPPN)
		}
		dst.mmapAreas = append(dst.mmapAreas, nm)
	}
	dst.HeapBottom = src.HeapBottom
	dst.HeapTop = src.HeapTop
	dst.HeapPt = src.HeapPt
	if pte, ok := dst.pt.Translate(TrapContext / PageSize); ok {
		dst.TrapContextPPN = pte.PPN()
	}
	return dst, nil
}

// Translate resolves vpn through the address space's page table.
func (as *AddressSpace) Translate(vpn uint64) (PTE, bool) {
	return as.pt.Translate(vpn)
}

// Root returns the page table's root frame number (what would be
// loaded into satp).
func (as *AddressSpace) Root() uint64 { return as.pt.Root() }

// Sbrk grows (increment > 0) or shrinks (increment < 0) the heap
// pointer, refusing to cross the region's fixed bounds. It returns the
// new break, or an error if the requested move is out of bounds.
func (as *AddressSpace) Sbrk(increment int64) (uint64, error) {
	oldPt := as.HeapPt
	newPt := uint64(int64(oldPt) + increment)
	if increment > 0 {
		limit := as.HeapBottom + (as.HeapTop - as.HeapBottom)
		if newPt > limit {
			return 0, fmt.Errorf("vmm: sbrk: new break %#x exceeds heap limit %#x", newPt, limit)
		}
	} else if increment < 0 {
		if newPt < as.HeapBottom {
			return 0, fmt.Errorf("vmm: sbrk: new break %#x below heap bottom %#x", newPt, as.HeapBottom)
		}
	}
	as.HeapPt = newPt
	return newPt, nil
}

// InsertMMapArea maps a new file- or anonymously-backed region and
// returns its base virtual address.
func (as *AddressSpace) InsertMMapArea(startVA, endVA uint64, perm MapPermission, fd int, offset int64, flags int, reader FileReader) (uint64, error) {
	area := NewMMapArea(startVA, endVA, perm, fd, offset, flags)
	base, err := area.Map(as.pt, as.frames, reader)
	if err != nil {
		return 0, err
	}
	as.mmapAreas = append(as.mmapAreas, area)
	if base == 0 {
		base = area.StartVPN * PageSize
	}
	return base, nil
}

// RemoveAreaWithStartVPN unmaps and drops the MapArea whose range
// begins at startVPN, if any.
func (as *AddressSpace) RemoveAreaWithStartVPN(startVPN uint64) {
	for i, area := range as.areas {
		if area.StartVPN == startVPN {
			area.Unmap(as.pt, as.frames)
			as.areas = append(as.areas[:i], as.areas[i+1:]...)
			return
		}
	}
}

// RemoveMMapAreaWithStartVPN unmaps and drops the MMapArea whose range
// begins at startVPN. Matching on start alone is sufficient since
// mmap regions never overlap.
func (as *AddressSpace) RemoveMMapAreaWithStartVPN(startVPN uint64) bool {
	for i, area := range as.mmapAreas {
		if area.StartVPN == startVPN {
			area.Unmap(as.pt, as.frames)
			as.mmapAreas = append(as.mmapAreas[:i], as.mmapAreas[i+1:]...)
			return true
		}
	}
	return false
}

// MaxVPN reports the highest VPN currently claimed by either a MapArea
// or an MMapArea, used by the syscall layer to pick an address for an
// addr=0 mmap request. The TrapContext/Trampoline pages sit at a fixed
// address near the top of the Sv39 space regardless of image size, so
// they're excluded here rather than pinning every addr=0 mmap there.
func (as *AddressSpace) MaxVPN() uint64 {
	var max uint64
	trapVPN := TrapContext / PageSize
	for _, a := range as.areas {
		if a.StartVPN == trapVPN {
			continue
		}
		if a.EndVPN > max {
			max = a.EndVPN
		}
	}
	for _, a := range as.mmapAreas {
		if a.EndVPN > max {
			max = a.EndVPN
		}
	}
	return max
}

// Destroy releases every region's frames and the page table's own
// directory frames.
func (as *AddressSpace) Destroy() {
	for _, a := range as.areas {
		a.Unmap(as.pt, as.frames)
	}
	for _, a := range as.mmapAreas {
		a.Unmap(as.pt, as.frames)
	}
	as.areas = nil
	as.mmapAreas = nil
	as.pt.Destroy()
}
