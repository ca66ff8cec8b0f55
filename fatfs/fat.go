package fatfs

import (
	"encoding/binary"
	"fmt"

	"rvkernel/blkcache"
)

// Reserved FAT32 cluster values.
const (
	ClusterFree     uint32 = 0x00000000
	ClusterBad      uint32 = 0x0FFFFFF7
	ClusterEOCMin   uint32 = 0x0FFFFFF8
	clusterValueMsk uint32 = 0x0FFFFFFF // top 4 bits reserved
)

// IsEOC reports whether v terminates a cluster chain.
func IsEOC(v uint32) bool { return v >= ClusterEOCMin }

// Table is the FAT cluster-chain engine. It owns
// both on-disk FAT copies and keeps them bit-identical after every
// operation (testable property #1).
type Table struct {
	cache      *blkcache.Cache
	info       *blkcache.InfoCache
	bpb        *BPB
	fsinfo     *FSInfo
	fsinfoSect int
	numFATs    int
	fatStart   [2]int // sector of FAT copy 0 and (if present) 1
	maxCluster uint32
	allocHint  uint32
}

// NewTable builds a Table bound to the mounted volume's BPB/FSINFO.
// FAT entry reads/writes go through cache, the volume's main data
// pool; FS_INFO updates go through info, the dedicated superblock
// pool, so a free-count bump never evicts a hot data sector.
func NewTable(cache *blkcache.Cache, info *blkcache.InfoCache, bpb *BPB, fsinfo *FSInfo, fsinfoSector int) *Table {
	t := &Table{
		cache:      cache,
		info:       info,
		bpb:        bpb,
		fsinfo:     fsinfo,
		fsinfoSect: fsinfoSector,
		numFATs:    bpb.NumFATs(),
	}
	for i := 0; i < t.numFATs && i < 2; i++ {
		t.fatStart[i] = bpb.FATSector(i)
	}
	entriesPerFAT := uint32(bpb.SectorsPerFAT()) * uint32(blkcache.SectorSize) / 4
	t.maxCluster = entriesPerFAT - 1
	t.allocHint = fsinfo.NextFree()
	if t.allocHint < 2 || t.allocHint > t.maxCluster {
		t.allocHint = 2
	}
	return t
}

func (t *Table) clusterLocation(c uint32) (sector int, offset int) {
	byteOff := int(c) * 4
	sector = t.fatStart[0] + byteOff/blkcache.SectorSize
	offset = byteOff % blkcache.SectorSize
	return
}

// Next returns the value stored at cluster c in FAT copy 0.
func (t *Table) Next(c uint32) (uint32, error) {
	if c < 2 || c > t.maxCluster {
		return 0, fmt.Errorf("%w: cluster %d out of range", ErrInvalidChain, c)
	}
	sector, off := t.clusterLocation(c)
	b, err := t.cache.Get(sector, blkcache.Read)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.Data[off:]) & clusterValueMsk, nil
}

// SetNext writes v at cluster c, fanning the write out to every FAT
// copy so FAT1 and FAT2 stay bit-identical.
func (t *Table) SetNext(c uint32, v uint32) error {
	if c < 2 || c > t.maxCluster {
		return fmt.Errorf("%w: cluster %d out of range", ErrInvalidChain, c)
	}
	byteOff := int(c) * 4
	rel := byteOff / blkcache.SectorSize
	off := byteOff % blkcache.SectorSize
	for i := 0; i < t.numFATs && i < 2; i++ {
		sector := t.fatStart[i] + rel
		if err := t.cache.Modify(sector, func(buf []byte) {
			binary.LittleEndian.PutUint32(buf[off:], v&clusterValueMsk)
		}); err != nil {
			return fmt.Errorf("fatfs: write FAT copy %d: %w", i, err)
		}
	}
	return nil
}

// Alloc returns a freshly allocated cluster whose entry is
// end-of-chain, optionally linking it from prev.
// prev == 0 means "no predecessor".
func (t *Table) Alloc(prev uint32) (uint32, error) {
	start := t.allocHint
	c := start
	for {
		v, err := t.Next(c)
		if err != nil {
			return 0, err
		}
		if v == ClusterFree {
			if err := t.SetNext(c, ClusterEOCMin); err != nil {
				return 0, err
			}
			if prev != 0 {
				if err := t.SetNext(prev, c); err != nil {
					return 0, err
				}
			}
			t.allocHint = c + 1
			if t.allocHint > t.maxCluster {
				t.allocHint = 2
			}
			t.updateFSInfo(-1, t.allocHint)
			return c, nil
		}
		c++
		if c > t.maxCluster {
			c = 2
		}
		if c == start {
			return 0, ErrNoSpace
		}
	}
}

// FreeChain walks the chain starting at head and marks every cluster
// free.
func (t *Table) FreeChain(head uint32) error {
	c := head
	freed := 0
	for c != 0 && !IsEOC(c) && c != ClusterFree {
		next, err := t.Next(c)
		if err != nil {
			return err
		}
		if err := t.SetNext(c, ClusterFree); err != nil {
			return err
		}
		freed++
		c = next
	}
	t.updateFSInfo(freed, 0)
	return nil
}

// updateFSInfo adjusts the cached free-cluster count (delta, possibly
// negative) and next-free hint (0 means "leave unchanged").
func (t *Table) updateFSInfo(delta int, nextHint uint32) {
	cur := t.fsinfo.FreeCount()
	if delta != 0 && cur != 0xFFFFFFFF {
		nv := int64(cur) + int64(delta)
		if nv < 0 {
			nv = 0
		}
		t.fsinfo.SetFreeCount(uint32(nv))
	}
	if nextHint != 0 {
		t.fsinfo.SetNextFree(nextHint)
	}
	_ = t.info.Modify(t.fsinfoSect, func(buf []byte) {
		copy(buf, t.fsinfo.Data[:])
	})
}

// Equal reports whether FAT1 and FAT2 are bit-identical, used by tests
// to check testable property #1.
func (t *Table) Equal() (bool, error) {
	if t.numFATs < 2 {
		return true, nil
	}
	secs := t.bpb.SectorsPerFAT()
	for s := 0; s < secs; s++ {
		b1, err := t.cache.Get(t.fatStart[0]+s, blkcache.Read)
		if err != nil {
			return false, err
		}
		b2, err := t.cache.Get(t.fatStart[1]+s, blkcache.Read)
		if err != nil {
			return false, err
		}
		if b1.Data != b2.Data {
			return false, nil
		}
	}
	return true, nil
}
