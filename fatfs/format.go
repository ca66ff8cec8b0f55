package fatfs

import (
	"fmt"

	"rvkernel/blkcache"
)

// FormatOptions controls the geometry FormatImage lays out. Defaults
// favor small test/demo images; the packer tool overrides SectorCount
// to match whatever image size it was asked to build.
type FormatOptions struct {
	BytesPerSector    int
	SectorsPerCluster int
	ReservedSectors   int
	NumFATs           int
	SectorCount       int
}

// DefaultFormatOptions returns a small test/demo geometry, sized so
// the FAT is always big enough to address every data cluster the
// image actually has room for.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   2,
		NumFATs:           2,
		SectorCount:       8192,
	}
}

// FormatImage writes a fresh, internally consistent FAT32 volume onto
// dev: BPB, FS_INFO, both FAT copies, and a one-cluster root directory
// containing "." and "..". FormatImage derives the FAT size from the
// volume size so every data cluster it describes is actually
// addressable, rather than hardcoding numbers that don't agree with
// each other.
func FormatImage(dev blkcache.BlockDevice, opt FormatOptions) error {
	if opt.BytesPerSector != blkcache.SectorSize {
		return fmt.Errorf("fatfs: format: only %d-byte sectors supported", blkcache.SectorSize)
	}
	if opt.NumFATs < 1 || opt.NumFATs > 2 {
		return fmt.Errorf("fatfs: format: NumFATs must be 1 or 2")
	}

	// entries-per-FAT-sector = 128 (4-byte entries, 512-byte sectors).
	// solve secPerFAT so one FAT copy's secPerFAT*128 entries cover every
	// cluster addressable by the remaining data region plus the two
	// reserved entries, iterating since the FAT itself eats into the
	// data region it is sized for.
	secPerFAT := 1
	for {
		dataStart := opt.ReservedSectors + opt.NumFATs*secPerFAT
		remaining := opt.SectorCount - dataStart
		if remaining < 0 {
			return fmt.Errorf("fatfs: format: image too small for its reserved+FAT region")
		}
		maxClusters := remaining / opt.SectorsPerCluster
		if secPerFAT*128 >= maxClusters+2 {
			break
		}
		secPerFAT++
		if secPerFAT > opt.SectorCount {
			return fmt.Errorf("fatfs: format: cannot size FAT for this image")
		}
	}

	var bpb BPB
	bpb.SetBytesPerSector(opt.BytesPerSector)
	bpb.SetSectorsPerCluster(opt.SectorsPerCluster)
	bpb.SetReservedSectors(opt.ReservedSectors)
	bpb.SetNumFATs(opt.NumFATs)
	bpb.SetTotalSectors(opt.SectorCount)
	bpb.SetSectorsPerFAT(secPerFAT)
	bpb.SetRootCluster(2)
	bpb.SetFSInfoSector(1)
	bpb.SetMedia(0xF8)
	bpb.SetBootSig()

	if err := dev.WriteBlock(0, bpb.Data[:]); err != nil {
		return fmt.Errorf("fatfs: format: write BPB: %w", err)
	}

	var fsinfo FSInfo
	fsinfo.InitSignatures()
	dataStart := opt.ReservedSectors + opt.NumFATs*secPerFAT
	totalDataSectors := opt.SectorCount - dataStart
	totalClusters := totalDataSectors / opt.SectorsPerCluster
	fsinfo.SetFreeCount(uint32(totalClusters - 1)) // cluster 2 goes to root
	fsinfo.SetNextFree(3)
	if err := dev.WriteBlock(1, fsinfo.Data[:]); err != nil {
		return fmt.Errorf("fatfs: format: write FS_INFO: %w", err)
	}

	var zero [blkcache.SectorSize]byte
	for i := 0; i < opt.NumFATs; i++ {
		fatStart := opt.ReservedSectors + i*secPerFAT
		for s := 0; s < secPerFAT; s++ {
			if err := dev.WriteBlock(fatStart+s, zero[:]); err != nil {
				return fmt.Errorf("fatfs: format: zero FAT %d: %w", i, err)
			}
		}
	}
	// mark cluster 0/1 reserved and cluster 2 (root) end-of-chain in
	// every FAT copy.
	var fatHead [blkcache.SectorSize]byte
	fatHead[0], fatHead[1], fatHead[2], fatHead[3] = 0xF8, 0xFF, 0xFF, 0x0F // cluster 0 reserved
	fatHead[4], fatHead[5], fatHead[6], fatHead[7] = 0xFF, 0xFF, 0xFF, 0x0F // cluster 1 reserved
	fatHead[8], fatHead[9], fatHead[10], fatHead[11] = 0xF8, 0xFF, 0xFF, 0x0F // cluster 2 = EOC
	for i := 0; i < opt.NumFATs; i++ {
		fatStart := opt.ReservedSectors + i*secPerFAT
		if err := dev.WriteBlock(fatStart, fatHead[:]); err != nil {
			return fmt.Errorf("fatfs: format: write FAT %d head: %w", i, err)
		}
	}

	rootBase := dataStart
	for s := 0; s < opt.SectorsPerCluster; s++ {
		if err := dev.WriteBlock(rootBase+s, zero[:]); err != nil {
			return fmt.Errorf("fatfs: format: zero root cluster: %w", err)
		}
	}
	var rootSec [blkcache.SectorSize]byte
	var dot ShortEntry
	copy(dot.Data[0:11], []byte(".          "))
	dot.SetAttr(AttrDirectory)
	dot.SetFirstCluster(2)
	copy(rootSec[0:32], dot.Data[:])

	var dotdot ShortEntry
	copy(dotdot.Data[0:11], []byte("..         "))
	dotdot.SetAttr(AttrDirectory)
	dotdot.SetFirstCluster(0) // ".." at the root points to cluster 0 by convention
	copy(rootSec[32:64], dotdot.Data[:])

	if err := dev.WriteBlock(rootBase, rootSec[:]); err != nil {
		return fmt.Errorf("fatfs: format: write root directory: %w", err)
	}
	return nil
}
