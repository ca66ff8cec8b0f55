// Command packer builds a FAT32 disk image from a directory of host
// files, one top-level file per entry with its extension stripped —
// the image a kernel boots from expects the binaries it will exec at
// the filesystem root.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"rvkernel/config"
	"rvkernel/fatfs"
	"rvkernel/ustr"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -source <dir> -image <path> [-sectors N]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	source := flag.String("source", "", "host directory of files to pack (required)")
	image := flag.String("image", "fat32.img", "output image path")
	sectors := flag.Int("sectors", config.Default().SectorCount, "image size in 512-byte sectors")
	flag.Usage = usage
	flag.Parse()

	if *source == "" {
		usage()
		os.Exit(1)
	}

	if err := pack(*source, *image, *sectors); err != nil {
		log.Fatal(err)
	}
}

// pack formats a fresh image at imagePath sized for sectorCount
// 512-byte sectors, then copies every regular file directly under
// sourceDir into its root, stripping the file's extension the way a
// build system names its build products after the source name alone.
func pack(sourceDir, imagePath string, sectorCount int) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return fmt.Errorf("packer: read source dir: %w", err)
	}

	f, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("packer: create image: %w", err)
	}
	defer f.Close()

	size := int64(sectorCount) * int64(blkDevSectorSize)
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("packer: size image: %w", err)
	}

	dev := &fileDevice{f: f}
	opt := fatfs.DefaultFormatOptions()
	opt.SectorCount = sectorCount
	if err := fatfs.FormatImage(dev, opt); err != nil {
		return fmt.Errorf("packer: format image: %w", err)
	}

	fs, err := fatfs.Mount(dev, config.Default().CacheCapacity)
	if err != nil {
		return fmt.Errorf("packer: mount freshly formatted image: %w", err)
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		hostPath := filepath.Join(sourceDir, ent.Name())
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return fmt.Errorf("packer: read %s: %w", hostPath, err)
		}

		name := strings.TrimSuffix(ent.Name(), filepath.Ext(ent.Name()))
		vf, err := fs.Create(ustr.FromString("/"+name), false)
		if err != nil {
			return fmt.Errorf("packer: create %s: %w", name, err)
		}
		if _, err := vf.WriteAt(data, 0); err != nil {
			fs.Release(vf)
			return fmt.Errorf("packer: write %s: %w", name, err)
		}
		fs.Release(vf)
		fmt.Printf("packed %s (%d bytes)\n", name, len(data))
	}

	if err := fs.CacheWriteBack(); err != nil {
		return fmt.Errorf("packer: flush: %w", err)
	}

	root, err := fs.LsLite(ustr.MkUstrRoot())
	if err != nil {
		return fmt.Errorf("packer: list root: %w", err)
	}
	fmt.Println("image root:")
	for _, e := range root {
		fmt.Printf("  %s\n", e.LongName)
	}
	return nil
}

const blkDevSectorSize = 512

// fileDevice adapts an *os.File to blkcache.BlockDevice.
type fileDevice struct {
	f *os.File
}

func (d *fileDevice) ReadBlock(sector int, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(sector)*blkDevSectorSize)
	return err
}

func (d *fileDevice) WriteBlock(sector int, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(sector)*blkDevSectorSize)
	return err
}
