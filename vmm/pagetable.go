package vmm

import "fmt"

// PTE flag bits, Sv39 layout.
const (
	PTEValid   uint64 = 1 << 0
	PTERead    uint64 = 1 << 1
	PTEWrite   uint64 = 1 << 2
	PTEExecute uint64 = 1 << 3
	PTEUser    uint64 = 1 << 4
	PTEGlobal  uint64 = 1 << 5
	PTEAccess  uint64 = 1 << 6
	PTEDirty   uint64 = 1 << 7

	ppnShift = 10
)

// PTE is one raw 64-bit Sv39 page table entry.
type PTE uint64

func (p PTE) Valid() bool    { return uint64(p)&PTEValid != 0 }
func (p PTE) Readable() bool { return uint64(p)&PTERead != 0 }
func (p PTE) Writable() bool { return uint64(p)&PTEWrite != 0 }
func (p PTE) Executable() bool {
	return uint64(p)&PTEExecute != 0
}
func (p PTE) IsLeaf() bool { return uint64(p)&(PTERead|PTEWrite|PTEExecute) != 0 }
func (p PTE) PPN() uint64  { return uint64(p) >> ppnShift }

func makePTE(ppn uint64, flags uint64) PTE {
	return PTE(ppn<<ppnShift | flags | PTEValid)
}

// vpnParts splits a virtual page number into its three Sv39 9-bit
// indices, most significant first.
func vpnParts(vpn uint64) [3]uint64 {
	return [3]uint64{
		(vpn >> 18) & 0x1FF,
		(vpn >> 9) & 0x1FF,
		vpn & 0x1FF,
	}
}

// PageTable is a 3-level Sv39 page table rooted at a frame drawn from
// a FrameAllocator.
type PageTable struct {
	frames *FrameAllocator
	root   uint64
	// owned records every frame PageTable itself allocated (its
	// directory pages), so Destroy can release them without the
	// caller needing to track internal nodes.
	owned []uint64
}

// NewPageTable allocates an empty root table.
func NewPageTable(frames *FrameAllocator) (*PageTable, error) {
	root, err := frames.Alloc()
	if err != nil {
		return nil, fmt.Errorf("vmm: allocate page table root: %w", err)
	}
	return &PageTable{frames: frames, root: root, owned: []uint64{root}}, nil
}

// Root returns the PPN of the root directory (what satp would carry).
func (pt *PageTable) Root() uint64 { return pt.root }

func (pt *PageTable) tableAt(ppn uint64) *[512]PTE {
	raw := pt.frames.Get(ppn)
	return (*[512]PTE)(rawAsPTEs(raw))
}

// rawAsPTEs reinterprets a page's 4096 bytes as 512 little-endian
// uint64 PTE slots without unsafe, matching the byte-for-byte layout
// real Sv39 hardware would read.
func rawAsPTEs(raw *[PageSize]byte) *[512]PTE {
	var out [512]PTE
	for i := 0; i < 512; i++ {
		var v uint64
		for b := 0; b < 8; b++ {
			v |= uint64(raw[i*8+b]) << (8 * b)
		}
		out[i] = PTE(v)
	}
	return &out
}

func writePTEs(raw *[PageSize]byte, table *[512]PTE) {
	for i := 0; i < 512; i++ {
		v := uint64(table[i])
		for b := 0; b < 8; b++ {
			raw[i*8+b] = byte(v >> (8 * b))
		}
	}
}

// walk finds the leaf PTE slot for vpn, allocating intermediate
// directory pages along the way when alloc is true.
func (pt *PageTable) walk(vpn uint64, alloc bool) (*[PageSize]byte, int, error) {
	idx := vpnParts(vpn)
	ppn := pt.root
	for level := 0; level < 2; level++ {
		raw := pt.frames.Get(ppn)
		table := rawAsPTEs(raw)
		entry := table[idx[level]]
		if !entry.Valid() {
			if !alloc {
				return nil, 0, fmt.Errorf("vmm: unmapped directory at level %d for vpn %#x", level, vpn)
			}
			childPPN, err := pt.frames.Alloc()
			if err != nil {
				return nil, 0, err
			}
			pt.owned = append(pt.owned, childPPN)
			table[idx[level]] = makePTE(childPPN, PTEValid)
			writePTEs(raw, table)
			ppn = childPPN
		} else {
			ppn = entry.PPN()
		}
	}
	return pt.frames.Get(ppn), int(idx[2]), nil
}

// Map installs a leaf PTE mapping vpn to ppn with the given flags.
// Mapping a vpn whose leaf is already valid is an invariant violation
// and panics.
func (pt *PageTable) Map(vpn, ppn uint64, flags uint64) error {
	raw, slot, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}
	table := rawAsPTEs(raw)
	if table[slot].Valid() {
		panic(fmt.Sprintf("vmm: map of already-mapped vpn %#x", vpn))
	}
	table[slot] = makePTE(ppn, flags)
	writePTEs(raw, table)
	return nil
}

// Unmap clears the leaf PTE for vpn. Unmapping a vpn that is not
// mapped is an invariant violation and panics.
func (pt *PageTable) Unmap(vpn uint64) {
	raw, slot, err := pt.walk(vpn, false)
	if err != nil {
		panic(fmt.Sprintf("vmm: unmap of unmapped vpn %#x: %v", vpn, err))
	}
	table := rawAsPTEs(raw)
	if !table[slot].Valid() {
		panic(fmt.Sprintf("vmm: unmap of unmapped vpn %#x", vpn))
	}
	table[slot] = 0
	writePTEs(raw, table)
}

// Translate returns the leaf PTE mapping vpn, if any.
func (pt *PageTable) Translate(vpn uint64) (PTE, bool) {
	raw, slot, err := pt.walk(vpn, false)
	if err != nil {
		return 0, false
	}
	table := rawAsPTEs(raw)
	pte := table[slot]
	if !pte.Valid() {
		return 0, false
	}
	return pte, true
}

// Destroy releases every directory frame this table allocated for
// itself. Leaf data frames belong to the MapArea/MMapArea that mapped
// them and are released separately.
func (pt *PageTable) Destroy() {
	for _, ppn := range pt.owned {
		pt.frames.Refdown(ppn)
	}
	pt.owned = nil
}
