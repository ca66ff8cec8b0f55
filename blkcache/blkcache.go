// Package blkcache implements the bounded, write-back block cache in
// front of the FAT32 volume: a cached buffer plus a container/list-backed
// LRU list, with plain 512-byte sector buffers rather than whole
// physical pages shared with the VM subsystem.
package blkcache

import (
	"container/list"
	"fmt"
	"sync"

	"rvkernel/klog"
)

// SectorSize is the logical block size this volume's geometry mandates.
const SectorSize = 512

// BlockDevice is the host-provided block device contract: synchronous, 512-byte-aligned reads and writes of a
// logical sector.
type BlockDevice interface {
	ReadBlock(sector int, buf []byte) error
	WriteBlock(sector int, buf []byte) error
}

// Block is a cached disk sector.
type Block struct {
	Sector int
	Data   [SectorSize]byte
	Dirty  bool

	elem *list.Element // position in the cache's LRU list
}

// Cache is a bounded pool of cached sectors with LRU eviction among
// clean entries and synchronous write-back of dirty victims.
type Cache struct {
	mu       sync.Mutex
	dev      BlockDevice
	capacity int
	byKey    map[int]*Block
	lru      *list.List // front = most recently used
}

// Mode selects read or write access for Get.
type Mode int

const (
	Read Mode = iota
	Write
)

// New constructs a Cache of the given capacity over dev. capacity must
// be positive.
func New(dev BlockDevice, capacity int) *Cache {
	if capacity <= 0 {
		panic("blkcache: non-positive capacity")
	}
	return &Cache{
		dev:      dev,
		capacity: capacity,
		byKey:    make(map[int]*Block, capacity),
		lru:      list.New(),
	}
}

// Get returns the cached buffer for sector, loading it from the device
// on a miss and evicting an LRU clean entry (flushing a dirty victim
// first) if the cache is full.
func (c *Cache) Get(sector int, mode Mode) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(sector, mode)
}

func (c *Cache) getLocked(sector int, mode Mode) (*Block, error) {
	if b, ok := c.byKey[sector]; ok {
		c.lru.MoveToFront(b.elem)
		return b, nil
	}
	if len(c.byKey) >= c.capacity {
		if err := c.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	b := &Block{Sector: sector}
	if err := c.dev.ReadBlock(sector, b.Data[:]); err != nil {
		return nil, fmt.Errorf("blkcache: read sector %d: %w", sector, err)
	}
	b.elem = c.lru.PushFront(b)
	c.byKey[sector] = b
	return b, nil
}

// evictOneLocked removes the least-recently-used block, flushing it
// first if dirty. Failure to flush is surfaced and the block is kept
// dirty rather than silently discarding the write.
func (c *Cache) evictOneLocked() error {
	victimElem := c.lru.Back()
	if victimElem == nil {
		return fmt.Errorf("blkcache: cache empty but at capacity (impossible)")
	}
	victim := victimElem.Value.(*Block)
	if victim.Dirty {
		if err := c.dev.WriteBlock(victim.Sector, victim.Data[:]); err != nil {
			return fmt.Errorf("blkcache: evict flush sector %d: %w", victim.Sector, err)
		}
		victim.Dirty = false
	}
	c.lru.Remove(victimElem)
	delete(c.byKey, victim.Sector)
	return nil
}

// Modify loads sector, applies f to its buffer, and marks it dirty.
func (c *Cache) Modify(sector int, f func(buf []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.getLocked(sector, Write)
	if err != nil {
		return err
	}
	f(b.Data[:])
	b.Dirty = true
	return nil
}

// WriteBackAll flushes every dirty buffer to the underlying device.
func (c *Cache) WriteBackAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Block)
		if !b.Dirty {
			continue
		}
		if err := c.dev.WriteBlock(b.Sector, b.Data[:]); err != nil {
			klog.L.WithFields(klog.Fields{"sector": b.Sector}).Error("write-back failed")
			return fmt.Errorf("blkcache: write-back sector %d: %w", b.Sector, err)
		}
		b.Dirty = false
	}
	return nil
}

// InfoCache is a tiny, separate pool for the BPB/FS_INFO sectors so
// they are never evicted behind data traffic during a mount. It shares
// the BlockDevice contract but keeps its own independent buffer set.
type InfoCache struct {
	*Cache
}

// NewInfoCache returns a 2-entry cache dedicated to superblock sectors.
func NewInfoCache(dev BlockDevice) *InfoCache {
	return &InfoCache{Cache: New(dev, 2)}
}
