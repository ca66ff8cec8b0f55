package fatfs

import (
	"fmt"

	"rvkernel/blkcache"
)

// DirEntry is a resolved directory entry: a short entry plus its
// (possibly empty) reconstructed long name.
type DirEntry struct {
	LongName string
	Short    ShortEntry

	// position of the run's first slot (the first LFN fragment, or the
	// short entry itself when there's no LFN), for in-place rewrite of
	// the whole run (e.g. on Remove).
	firstSlotSector int
	firstSlotOffset int
	slotCount       int // number of 32-byte slots consumed, including LFN fragments

	// position of the short entry's own slot, always the run's last
	// slot. Distinct from firstSlotSector/Offset whenever an LFN run
	// precedes it; needed to rewrite just the short entry in place.
	shortSlotSector int
	shortSlotOffset int
}

// Dir reads and writes the 32-byte-entry array that makes up one
// directory's cluster chain.
type Dir struct {
	cache *blkcache.Cache
	bpb   *BPB
	fat   *Table
	head  uint32 // first cluster of this directory
}

// NewDir opens the directory whose contents start at cluster head.
func NewDir(cache *blkcache.Cache, bpb *BPB, fat *Table, head uint32) *Dir {
	return &Dir{cache: cache, bpb: bpb, fat: fat, head: head}
}

func (d *Dir) clusterBytes() int {
	return d.bpb.SectorsPerCluster() * blkcache.SectorSize
}

// forEachSlot walks every 32-byte slot of the directory's cluster
// chain in order, calling visit(sector, offset, raw). Stopping early
// is signalled by visit returning stop=true.
func (d *Dir) forEachSlot(visit func(sector, offset int, raw *[32]byte) (stop bool, err error)) error {
	c := d.head
	secPerClus := d.bpb.SectorsPerCluster()
	for c != 0 && !IsEOC(c) {
		base := d.bpb.ClusterToSector(c)
		for s := 0; s < secPerClus; s++ {
			sector := base + s
			blk, err := d.cache.Get(sector, blkcache.Read)
			if err != nil {
				return err
			}
			for off := 0; off+32 <= blkcache.SectorSize; off += 32 {
				var raw [32]byte
				copy(raw[:], blk.Data[off:off+32])
				stop, err := visit(sector, off, &raw)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
			}
		}
		next, err := d.fat.Next(c)
		if err != nil {
			return err
		}
		c = next
	}
	return nil
}

// Iterate lists every live (non-deleted, non-volume-id) entry in the
// directory in on-disk order, reconstructing long names from their LFN
// fragment runs.
func (d *Dir) Iterate() ([]DirEntry, error) {
	var out []DirEntry
	var pending []*LongEntry // accumulated in on-disk (descending ordinal) order
	pendingStart := struct{ sector, offset int }{}

	flushPending := func() {
		pending = nil
	}

	err := d.forEachSlot(func(sector, offset int, raw *[32]byte) (bool, error) {
		if raw[lOrd] == freeMarker {
			return true, nil // free marker ends the directory
		}
		if raw[lOrd] == deletedMarker {
			flushPending()
			return false, nil
		}
		if raw[sAttr] == AttrLFN {
			le := &LongEntry{Data: *raw}
			if len(pending) == 0 {
				pendingStart.sector, pendingStart.offset = sector, offset
			}
			pending = append(pending, le)
			return false, nil
		}
		se := ShortEntry{Data: *raw}
		if se.Attr()&AttrVolumeID != 0 {
			flushPending()
			return false, nil
		}
		name := TrimShortName(se.Name11())
		slotCount := 1
		if long, ok := reconstructLongName(pending, se.Name11()); ok {
			name = long
			slotCount += len(pending)
		}
		shortSlotSector, shortSlotOffset := sector, offset
		startSector, startOffset := shortSlotSector, shortSlotOffset
		if slotCount > 1 {
			startSector, startOffset = pendingStart.sector, pendingStart.offset
		}
		out = append(out, DirEntry{
			LongName:        name,
			Short:           se,
			firstSlotSector: startSector,
			firstSlotOffset: startOffset,
			slotCount:       slotCount,
			shortSlotSector: shortSlotSector,
			shortSlotOffset: shortSlotOffset,
		})
		flushPending()
		return false, nil
	})
	return out, err
}

// reconstructLongName assembles the long name from LFN fragments that
// precede a short entry. Fragments are on disk in descending ordinal
// order (last fragment first); pending here is already in that order.
func reconstructLongName(pending []*LongEntry, sfn [11]byte) (string, bool) {
	if len(pending) == 0 {
		return "", false
	}
	chk := Checksum(sfn)
	// validate ordinals and checksum: highest ordinal (with LAST flag)
	// must come first in pending, descending to 1.
	expectSeq := byte(len(pending))
	var units []uint16
	for i, le := range pending {
		if le.Checksum() != chk {
			return "", false
		}
		if le.Sequence() != expectSeq {
			return "", false
		}
		if i == 0 && le.Ord()&lastLongEntryFlag == 0 {
			return "", false
		}
		expectSeq--
		units = append(units, le.Units()...)
	}
	// fragments are stored name-forward within a fragment, but fragment
	// order on disk runs highest-ordinal-first; reverse to get the
	// forward concatenation.
	full := make([]uint16, 0, len(units))
	for i := len(pending) - 1; i >= 0; i-- {
		full = append(full, pending[i].Units()...)
	}
	// trim at the first NUL terminator.
	for i, u := range full {
		if u == 0x0000 {
			full = full[:i]
			break
		}
	}
	name, err := DecodeUTF16LE(full)
	if err != nil {
		return "", false
	}
	return name, true
}

// Lookup finds the entry whose name (its long name, or its trimmed 8.3
// name when it has none) equals name exactly. The comparison is
// case-sensitive for both kinds of name.
func (d *Dir) Lookup(name string) (DirEntry, error) {
	entries, err := d.Iterate()
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if e.LongName == name {
			return e, nil
		}
	}
	return DirEntry{}, ErrNotFound
}

// slotPos locates one 32-byte directory slot.
type slotPos struct {
	sector, offset int
}

// findFreeRun finds a run of n consecutive free/deleted slots in the
// directory's current cluster chain, returning nil when there is none.
// It never extends the chain; Insert grows the directory and retries.
func (d *Dir) findFreeRun(n int) ([]slotPos, error) {
	var run []slotPos
	var lastRealEnd bool
	err := d.forEachSlot(func(sector, offset int, raw *[32]byte) (bool, error) {
		if raw[lOrd] == freeMarker {
			run = append(run, slotPos{sector, offset})
			if len(run) == n {
				lastRealEnd = true
				return true, nil
			}
			return false, nil
		}
		if raw[lOrd] == deletedMarker {
			run = append(run, slotPos{sector, offset})
			if len(run) == n {
				return true, nil
			}
			return false, nil
		}
		run = run[:0]
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if len(run) == n {
		return run, nil
	}
	if lastRealEnd {
		return run, nil
	}
	return nil, nil
}

// Insert adds a new entry named name with the given attr and first
// cluster, allocating LFN fragments when the name needs one. It
// extends the directory's own cluster chain if no free run of slots is
// available. It returns the (sector, offset) of the short entry's own
// slot, so a caller can rewrite just that slot later (e.g. on a size
// change) without re-walking the directory.
func (d *Dir) Insert(name string, attr byte, firstCluster uint32, size uint32) (sector, offset int, err error) {
	if _, err := d.Lookup(name); err == nil {
		return 0, 0, ErrExists
	}
	existing, err := d.Iterate()
	if err != nil {
		return 0, 0, err
	}
	taken := make(map[[11]byte]bool, len(existing))
	for _, e := range existing {
		taken[e.Short.Name11()] = true
	}
	sfn := ShortNameFor(name, func(n [11]byte) bool { return taken[n] })

	units, err := EncodeUTF16LE(name)
	if err != nil {
		return 0, 0, fmt.Errorf("fatfs: insert %q: %w", name, err)
	}
	needLFN := TrimShortName(sfn) != name
	var frags []*LongEntry
	if needLFN {
		frags = buildLongEntries(units, sfn)
	}

	slotsNeeded := len(frags) + 1
	run, err := d.findFreeRun(slotsNeeded)
	if err != nil {
		return 0, 0, err
	}
	if run == nil {
		if err := d.grow(); err != nil {
			return 0, 0, err
		}
		run, err = d.findFreeRun(slotsNeeded)
		if err != nil {
			return 0, 0, err
		}
		if run == nil {
			return 0, 0, ErrDirFull
		}
	}

	var se ShortEntry
	se.SetName11(sfn)
	se.SetAttr(attr)
	se.SetFirstCluster(firstCluster)
	se.SetFileSize(size)

	for i, frag := range frags {
		pos := run[i]
		if err := d.writeSlot(pos, frag.Data); err != nil {
			return 0, 0, err
		}
	}
	shortPos := run[len(frags)]
	if err := d.writeSlot(shortPos, se.Data); err != nil {
		return 0, 0, err
	}
	return shortPos.sector, shortPos.offset, nil
}

// buildLongEntries splits units into 13-unit fragments and returns them
// in on-disk order: highest ordinal (with the 0x40 last-entry flag)
// first, descending to ordinal 1.
func buildLongEntries(units []uint16, sfn [11]byte) []*LongEntry {
	chk := Checksum(sfn)
	const perFrag = 13
	n := (len(units) + perFrag) / perFrag // room for terminator
	if n == 0 {
		n = 1
	}
	frags := make([]*LongEntry, n)
	for i := 0; i < n; i++ {
		le := NewLongEntry()
		le.SetChecksum(chk)
		start := i * perFrag
		end := start + perFrag
		if end > len(units) {
			end = len(units)
		}
		var chunk []uint16
		if start < len(units) {
			chunk = units[start:end]
		}
		le.SetUnits(chunk)
		seq := byte(i + 1)
		if i == n-1 {
			seq |= lastLongEntryFlag
		}
		le.SetOrd(seq)
		frags[n-1-i] = le // highest ordinal goes first on disk
	}
	return frags
}

func (d *Dir) writeSlot(pos slotPos, data [32]byte) error {
	return d.cache.Modify(pos.sector, func(buf []byte) {
		copy(buf[pos.offset:pos.offset+32], data[:])
	})
}

// grow appends one cluster to the directory's own chain and zero-fills
// it, so every slot in the new cluster reads as free.
func (d *Dir) grow() error {
	last := d.head
	for {
		next, err := d.fat.Next(last)
		if err != nil {
			return err
		}
		if IsEOC(next) {
			break
		}
		last = next
	}
	newClus, err := d.fat.Alloc(last)
	if err != nil {
		return err
	}
	base := d.bpb.ClusterToSector(newClus)
	var zero [blkcache.SectorSize]byte
	for s := 0; s < d.bpb.SectorsPerCluster(); s++ {
		if err := d.cache.Modify(base+s, func(buf []byte) {
			copy(buf, zero[:])
		}); err != nil {
			return err
		}
	}
	return nil
}

// Delete marks name's short entry and any LFN fragments as deleted and
// frees its data-cluster chain. It is the
// caller's responsibility to have confirmed the target isn't a
// non-empty directory. Slots are walked via forEachSlot rather than
// raw sector arithmetic, since consecutive directory slots aren't
// necessarily in consecutive sectors once an LFN run crosses a
// cluster-chain boundary.
func (d *Dir) Delete(name string) error {
	e, err := d.Lookup(name)
	if err != nil {
		return err
	}
	if err := d.fat.FreeChain(e.Short.FirstCluster()); err != nil && err != ErrInvalidChain {
		return err
	}
	remaining := e.slotCount
	started := false
	return d.forEachSlot(func(sector, offset int, raw *[32]byte) (bool, error) {
		if !started {
			if sector != e.firstSlotSector || offset != e.firstSlotOffset {
				return false, nil
			}
			started = true
		}
		if err := d.cache.Modify(sector, func(buf []byte) {
			buf[offset] = deletedMarker
		}); err != nil {
			return false, err
		}
		remaining--
		return remaining == 0, nil
	})
}
