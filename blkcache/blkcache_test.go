package blkcache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// memDevice is an in-memory BlockDevice standing in for the real
// host-provided disk during unit tests.
type memDevice struct {
	sectors map[int][SectorSize]byte
	reads   int
	writes  int
	failOn  int // sector that fails writes, -1 disables
}

func newMemDevice() *memDevice {
	return &memDevice{sectors: make(map[int][SectorSize]byte), failOn: -1}
}

func (m *memDevice) ReadBlock(sector int, buf []byte) error {
	m.reads++
	s := m.sectors[sector]
	copy(buf, s[:])
	return nil
}

func (m *memDevice) WriteBlock(sector int, buf []byte) error {
	m.writes++
	if sector == m.failOn {
		return errors.New("injected write failure")
	}
	var s [SectorSize]byte
	copy(s[:], buf)
	m.sectors[sector] = s
	return nil
}

func TestGetCachesOnSecondRead(t *testing.T) {
	dev := newMemDevice()
	c := New(dev, 4)

	_, err := c.Get(0, Read)
	require.NoError(t, err)
	_, err = c.Get(0, Read)
	require.NoError(t, err)
	require.Equal(t, 1, dev.reads, "second Get of the same sector must hit the cache")
}

func TestModifyMarksDirtyAndWriteBackFlushes(t *testing.T) {
	dev := newMemDevice()
	c := New(dev, 4)

	err := c.Modify(1, func(buf []byte) { buf[0] = 0xAB })
	require.NoError(t, err)
	require.Equal(t, 0, dev.writes, "Modify must not write through synchronously")

	require.NoError(t, c.WriteBackAll())
	require.Equal(t, 1, dev.writes)
	require.Equal(t, byte(0xAB), dev.sectors[1][0])
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	dev := newMemDevice()
	c := New(dev, 2)

	require.NoError(t, c.Modify(1, func(buf []byte) { buf[0] = 1 }))
	_, err := c.Get(2, Read)
	require.NoError(t, err)
	// touch 2 so the dirty sector 1 is least recently used, then bring
	// in a third sector to evict it
	_, err = c.Get(2, Read)
	require.NoError(t, err)
	_, err = c.Get(3, Read)
	require.NoError(t, err)

	require.Equal(t, byte(1), dev.sectors[1][0], "dirty sector 1 must have been written back before any eviction reused its page")
}

func TestEvictionFailureLeavesBufferDirty(t *testing.T) {
	dev := newMemDevice()
	dev.failOn = 1
	c := New(dev, 1)

	require.NoError(t, c.Modify(1, func(buf []byte) { buf[0] = 9 }))
	_, err := c.Get(2, Read)
	require.Error(t, err, "eviction of a dirty, unflushable sector must fail")

	b := c.byKey[1]
	require.NotNil(t, b)
	require.True(t, b.Dirty, "a failed write-back must not mark the buffer clean")
}

func TestWriteBackAllStopsOnFirstFailure(t *testing.T) {
	dev := newMemDevice()
	c := New(dev, 4)
	require.NoError(t, c.Modify(1, func(buf []byte) { buf[0] = 1 }))
	require.NoError(t, c.Modify(2, func(buf []byte) { buf[0] = 2 }))

	dev.failOn = 1
	err := c.WriteBackAll()
	require.Error(t, err)
}
