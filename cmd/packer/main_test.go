package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackWritesImageOfRequestedSize(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.elf"), []byte("greetings program"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "init.bin"), []byte("init payload"), 0o644))

	img := filepath.Join(t.TempDir(), "fat32.img")
	require.NoError(t, pack(src, img, 2048))

	info, err := os.Stat(img)
	require.NoError(t, err)
	require.Equal(t, int64(2048*blkDevSectorSize), info.Size())
}

func TestPackEmptySourceStillFormats(t *testing.T) {
	src := t.TempDir()
	img := filepath.Join(t.TempDir(), "fat32.img")
	require.NoError(t, pack(src, img, 2048))
}

func TestPackMissingSourceErrors(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fat32.img")
	err := pack(filepath.Join(t.TempDir(), "does-not-exist"), img, 2048)
	require.Error(t, err)
}
