// Package fatfs is the FAT32 on-disk engine:
// cluster chains, directory layout with long-name entries, and the
// VFile abstraction layered over blkcache. Field offsets below are
// lifted from soypat-fat/sectors.go and tables.go, which themselves
// port the canonical FatFs BPB/FSINFO/directory-entry layout; we keep
// the same byte offsets so an image written by this package is a real
// FAT32 volume, not an invented one.
package fatfs

import "encoding/binary"

// BPB field offsets (bytes into sector 0), per soypat-fat/tables.go.
const (
	offBytsPerSec = 11
	offSecPerClus = 13
	offRsvdSecCnt = 14
	offNumFATs    = 16
	offMedia      = 21
	offTotSec32   = 32
	offFATSz32    = 36
	offRootClus32 = 44
	offFSInfo32   = 48
	offVolID32    = 67
	offBootSig    = 510 // 0x55AA
)

// FS_INFO field offsets (bytes into sector 1).
const (
	offFSILeadSig  = 0
	offFSIStrucSig = 484
	offFSIFreeCnt  = 488
	offFSINxtFree  = 492
)

const (
	fsiLeadSigValue  = 0x41615252
	fsiStrucSigValue = 0x61417272
	bootSigValue     = 0xAA55
)

// BPB is a thin accessor over the raw bytes of sector 0.
type BPB struct {
	Data [512]byte
}

func (b *BPB) BytesPerSector() int  { return int(binary.LittleEndian.Uint16(b.Data[offBytsPerSec:])) }
func (b *BPB) SectorsPerCluster() int { return int(b.Data[offSecPerClus]) }
func (b *BPB) ReservedSectors() int { return int(binary.LittleEndian.Uint16(b.Data[offRsvdSecCnt:])) }
func (b *BPB) NumFATs() int         { return int(b.Data[offNumFATs]) }
func (b *BPB) TotalSectors() int    { return int(binary.LittleEndian.Uint32(b.Data[offTotSec32:])) }
func (b *BPB) SectorsPerFAT() int   { return int(binary.LittleEndian.Uint32(b.Data[offFATSz32:])) }
func (b *BPB) RootCluster() uint32  { return binary.LittleEndian.Uint32(b.Data[offRootClus32:]) }
func (b *BPB) FSInfoSector() int    { return int(binary.LittleEndian.Uint16(b.Data[offFSInfo32:])) }

func (b *BPB) SetBytesPerSector(v int) { binary.LittleEndian.PutUint16(b.Data[offBytsPerSec:], uint16(v)) }
func (b *BPB) SetSectorsPerCluster(v int) { b.Data[offSecPerClus] = byte(v) }
func (b *BPB) SetReservedSectors(v int) { binary.LittleEndian.PutUint16(b.Data[offRsvdSecCnt:], uint16(v)) }
func (b *BPB) SetNumFATs(v int)        { b.Data[offNumFATs] = byte(v) }
func (b *BPB) SetTotalSectors(v int)   { binary.LittleEndian.PutUint32(b.Data[offTotSec32:], uint32(v)) }
func (b *BPB) SetSectorsPerFAT(v int)  { binary.LittleEndian.PutUint32(b.Data[offFATSz32:], uint32(v)) }
func (b *BPB) SetRootCluster(v uint32) { binary.LittleEndian.PutUint32(b.Data[offRootClus32:], v) }
func (b *BPB) SetFSInfoSector(v int)   { binary.LittleEndian.PutUint16(b.Data[offFSInfo32:], uint16(v)) }
func (b *BPB) SetMedia(v byte)         { b.Data[offMedia] = v }
func (b *BPB) SetBootSig()             { binary.LittleEndian.PutUint16(b.Data[offBootSig:], bootSigValue) }

func (b *BPB) Valid() bool {
	return binary.LittleEndian.Uint16(b.Data[offBootSig:]) == bootSigValue
}

// FirstFATSector is the sector the first (or only) FAT copy begins at.
func (b *BPB) FirstFATSector() int { return b.ReservedSectors() }

// FATSector returns the first sector of FAT copy index (0 or 1).
func (b *BPB) FATSector(index int) int {
	return b.FirstFATSector() + index*b.SectorsPerFAT()
}

// FirstDataSector is the sector cluster 2 lives at: cluster n maps to
// sector FirstDataSector() + (n - 2).
func (b *BPB) FirstDataSector() int {
	return b.FirstFATSector() + b.NumFATs()*b.SectorsPerFAT()
}

// ClusterToSector maps a cluster number to its first sector.
func (b *BPB) ClusterToSector(cluster uint32) int {
	return b.FirstDataSector() + int(cluster-2)*b.SectorsPerCluster()
}

// FSInfo is a thin accessor over the raw bytes of the FS_INFO sector.
type FSInfo struct {
	Data [512]byte
}

func (f *FSInfo) FreeCount() uint32 { return binary.LittleEndian.Uint32(f.Data[offFSIFreeCnt:]) }
func (f *FSInfo) NextFree() uint32  { return binary.LittleEndian.Uint32(f.Data[offFSINxtFree:]) }
func (f *FSInfo) SetFreeCount(v uint32) {
	binary.LittleEndian.PutUint32(f.Data[offFSIFreeCnt:], v)
}
func (f *FSInfo) SetNextFree(v uint32) {
	binary.LittleEndian.PutUint32(f.Data[offFSINxtFree:], v)
}
func (f *FSInfo) InitSignatures() {
	binary.LittleEndian.PutUint32(f.Data[offFSILeadSig:], fsiLeadSigValue)
	binary.LittleEndian.PutUint32(f.Data[offFSIStrucSig:], fsiStrucSigValue)
}
