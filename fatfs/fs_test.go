package fatfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/blkcache"
	"rvkernel/ustr"
)

type memDisk struct {
	sectors map[int][blkcache.SectorSize]byte
}

func newMemDisk() *memDisk { return &memDisk{sectors: make(map[int][blkcache.SectorSize]byte)} }

func (m *memDisk) ReadBlock(sector int, buf []byte) error {
	s := m.sectors[sector]
	copy(buf, s[:])
	return nil
}

func (m *memDisk) WriteBlock(sector int, buf []byte) error {
	var s [blkcache.SectorSize]byte
	copy(s[:], buf)
	m.sectors[sector] = s
	return nil
}

func mustMount(t *testing.T) (*FS, *memDisk) {
	t.Helper()
	dev := newMemDisk()
	opt := DefaultFormatOptions()
	opt.SectorCount = 2048
	require.NoError(t, FormatImage(dev, opt))
	fs, err := Mount(dev, 16)
	require.NoError(t, err)
	return fs, dev
}

func TestMountReadsFormattedVolume(t *testing.T) {
	fs, _ := mustMount(t)
	root := fs.Root()
	st := root.Stat()
	require.True(t, st.IsDir)
	fs.Release(root)
}

func TestCreateWriteReadFile(t *testing.T) {
	fs, _ := mustMount(t)
	f, err := fs.Create(ustr.FromString("/hello.txt"), false)
	require.NoError(t, err)

	payload := []byte("hello, fat32")
	n, err := f.WriteAt(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	fs.Release(f)

	f2, err := fs.FindByPath(ustr.FromString("/hello.txt"))
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	n, err = f2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
	fs.Release(f2)
}

func TestWriteSpanningMultipleClusters(t *testing.T) {
	fs, _ := mustMount(t)
	f, err := fs.Create(ustr.FromString("/big.bin"), false)
	require.NoError(t, err)

	payload := make([]byte, 3*blkcache.SectorSize+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = f.WriteAt(payload, 0)
	require.NoError(t, err)
	fs.Release(f)

	f2, err := fs.FindByPath(ustr.FromString("/big.bin"))
	require.NoError(t, err)
	got := make([]byte, len(payload))
	_, err = f2.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	fs.Release(f2)
}

func TestLongFileNameRoundTrip(t *testing.T) {
	fs, _ := mustMount(t)
	name := "this is a rather long file name.txt"
	_, err := fs.Create(ustr.FromString("/"+name), false)
	require.NoError(t, err)

	entries, err := fs.LsLite(ustr.FromString("/"))
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.LongName == name {
			found = true
		}
	}
	require.True(t, found, "expected %q among %v", name, entries)
}

func TestRemoveFreesChain(t *testing.T) {
	fs, _ := mustMount(t)
	f, err := fs.Create(ustr.FromString("/x.bin"), false)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 4*blkcache.SectorSize), 0)
	require.NoError(t, err)
	head := f.FirstCluster()
	fs.Release(f)

	require.NoError(t, fs.Remove(ustr.FromString("/x.bin")))
	_, err = fs.FindByPath(ustr.FromString("/x.bin"))
	require.ErrorIs(t, err, ErrNotFound)

	next, err := fs.fat.Next(head)
	require.NoError(t, err)
	require.Equal(t, ClusterFree, next)
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	fs, _ := mustMount(t)
	_, err := fs.Create(ustr.FromString("/sub"), true)
	require.NoError(t, err)
	_, err = fs.Create(ustr.FromString("/sub/child.txt"), false)
	require.NoError(t, err)

	err = fs.Remove(ustr.FromString("/sub"))
	require.Error(t, err)
}

func TestFATCopiesStayIdentical(t *testing.T) {
	fs, _ := mustMount(t)
	for i := 0; i < 5; i++ {
		_, err := fs.Create(ustr.FromString("/f"+string(rune('a'+i))+".txt"), false)
		require.NoError(t, err)
	}
	eq, err := fs.fat.Equal()
	require.NoError(t, err)
	require.True(t, eq, "FAT1 and FAT2 must stay bit-identical")
}

func TestCacheWriteBackPersists(t *testing.T) {
	fs, dev := mustMount(t)
	f, err := fs.Create(ustr.FromString("/p.txt"), false)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("persisted"), 0)
	require.NoError(t, err)
	fs.Release(f)
	require.NoError(t, fs.CacheWriteBack())

	fs2, err := Mount(dev, 16)
	require.NoError(t, err)
	f2, err := fs2.FindByPath(ustr.FromString("/p.txt"))
	require.NoError(t, err)
	buf := make([]byte, len("persisted"))
	_, err = f2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "persisted", string(buf))
}
