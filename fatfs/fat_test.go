package fatfs

import (
	"testing"

	"rvkernel/blkcache"
)

func newTestTable(t *testing.T) (*Table, *memDisk) {
	t.Helper()
	dev := newMemDisk()
	opt := DefaultFormatOptions()
	opt.SectorCount = 1024
	if err := FormatImage(dev, opt); err != nil {
		t.Fatalf("format: %v", err)
	}
	cache := blkcache.New(dev, 8)
	bpbBlk, err := cache.Get(0, blkcache.Read)
	if err != nil {
		t.Fatalf("read bpb: %v", err)
	}
	bpb := &BPB{Data: bpbBlk.Data}
	fsinfoBlk, err := cache.Get(bpb.FSInfoSector(), blkcache.Read)
	if err != nil {
		t.Fatalf("read fsinfo: %v", err)
	}
	fsinfo := &FSInfo{Data: fsinfoBlk.Data}
	info := blkcache.NewInfoCache(dev)
	return NewTable(cache, info, bpb, fsinfo, bpb.FSInfoSector()), dev
}

func TestAllocChainThenFreeChainReleasesClusters(t *testing.T) {
	table, _ := newTestTable(t)
	c1, err := table.Alloc(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	c2, err := table.Alloc(c1)
	if err != nil {
		t.Fatalf("alloc chained: %v", err)
	}
	next, err := table.Next(c1)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != c2 {
		t.Fatalf("expected %d to chain to %d, got %d", c1, c2, next)
	}
	if err := table.FreeChain(c1); err != nil {
		t.Fatalf("freechain: %v", err)
	}
	for _, c := range []uint32{c1, c2} {
		v, err := table.Next(c)
		if err != nil {
			t.Fatalf("next after free: %v", err)
		}
		if v != ClusterFree {
			t.Fatalf("cluster %d not freed, got %#x", c, v)
		}
	}
}

func TestFATCopiesIdenticalAfterAlloc(t *testing.T) {
	table, _ := newTestTable(t)
	for i := 0; i < 10; i++ {
		if _, err := table.Alloc(0); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	eq, err := table.Equal()
	if err != nil {
		t.Fatalf("equal: %v", err)
	}
	if !eq {
		t.Fatalf("FAT copies diverged")
	}
}

func TestAllocOutOfSpace(t *testing.T) {
	table, _ := newTestTable(t)
	var last error
	for i := 0; i < 10000; i++ {
		if _, err := table.Alloc(0); err != nil {
			last = err
			break
		}
	}
	if last != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace eventually, got %v", last)
	}
}
