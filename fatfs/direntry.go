package fatfs

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Directory entry attribute bits.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLFN       = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	entrySize = 32

	// short entry field offsets.
	sName         = 0
	sAttr         = 11
	sNTRes        = 12
	sCrtTimeTenth = 13
	sCrtTime      = 14
	sCrtDate      = 16
	sLstAccDate   = 18
	sFstClusHI    = 20
	sWrtTime      = 22
	sWrtDate      = 24
	sFstClusLO    = 26
	sFileSize     = 28

	// long entry field offsets.
	lOrd      = 0
	lName1    = 1  // 5 UTF-16 units
	lAttr     = 11 // always AttrLFN
	lType     = 12
	lChksum   = 13
	lName2    = 14 // 6 UTF-16 units
	lFstClus  = 26 // always 0
	lName3    = 28 // 2 UTF-16 units

	lastLongEntryFlag = 0x40
	deletedMarker     = 0xE5
	freeMarker        = 0x00
)

// ShortEntry is the 32-byte 8.3 directory entry.
type ShortEntry struct {
	Data [entrySize]byte
}

func (e *ShortEntry) Name11() [11]byte {
	var n [11]byte
	copy(n[:], e.Data[sName:sName+11])
	return n
}
func (e *ShortEntry) SetName11(n [11]byte) { copy(e.Data[sName:sName+11], n[:]) }

func (e *ShortEntry) Attr() byte     { return e.Data[sAttr] }
func (e *ShortEntry) SetAttr(a byte) { e.Data[sAttr] = a }

func (e *ShortEntry) FirstCluster() uint32 {
	hi := binary.LittleEndian.Uint16(e.Data[sFstClusHI:])
	lo := binary.LittleEndian.Uint16(e.Data[sFstClusLO:])
	return uint32(hi)<<16 | uint32(lo)
}
func (e *ShortEntry) SetFirstCluster(c uint32) {
	binary.LittleEndian.PutUint16(e.Data[sFstClusHI:], uint16(c>>16))
	binary.LittleEndian.PutUint16(e.Data[sFstClusLO:], uint16(c))
}

func (e *ShortEntry) FileSize() uint32     { return binary.LittleEndian.Uint32(e.Data[sFileSize:]) }
func (e *ShortEntry) SetFileSize(sz uint32) { binary.LittleEndian.PutUint32(e.Data[sFileSize:], sz) }

func (e *ShortEntry) IsFree() bool     { return e.Data[sName] == freeMarker }
func (e *ShortEntry) IsDeleted() bool  { return e.Data[sName] == deletedMarker }
func (e *ShortEntry) IsDir() bool      { return e.Attr()&AttrDirectory != 0 }
func (e *ShortEntry) markDeleted()     { e.Data[sName] = deletedMarker }

func (e *ShortEntry) SetTimestamps(t time.Time) {
	dt, tm := packDate(t), packTime(t)
	binary.LittleEndian.PutUint16(e.Data[sCrtDate:], dt)
	binary.LittleEndian.PutUint16(e.Data[sCrtTime:], tm)
	binary.LittleEndian.PutUint16(e.Data[sWrtDate:], dt)
	binary.LittleEndian.PutUint16(e.Data[sWrtTime:], tm)
	binary.LittleEndian.PutUint16(e.Data[sLstAccDate:], dt)
}

func packDate(t time.Time) uint16 {
	return uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}
func packTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
}

// Checksum implements the FAT32 LFN "sum-rotate" algorithm exactly as
// soypat-fat/fat.go's sum_sfn computes it: every LFN fragment associated
// with a short entry must carry this checksum.
func Checksum(sfn [11]byte) byte {
	var sum byte
	for i := 0; i < 11; i++ {
		sum = (sum >> 1) + (sum << 7) + sfn[i]
	}
	return sum
}

// LongEntry is one 32-byte UTF-16 name fragment.
type LongEntry struct {
	Data [entrySize]byte
}

func (e *LongEntry) Ord() byte         { return e.Data[lOrd] }
func (e *LongEntry) SetOrd(o byte)     { e.Data[lOrd] = o }
func (e *LongEntry) IsLast() bool      { return e.Data[lOrd]&lastLongEntryFlag != 0 }
func (e *LongEntry) Sequence() byte    { return e.Data[lOrd] &^ lastLongEntryFlag }
func (e *LongEntry) Checksum() byte    { return e.Data[lChksum] }
func (e *LongEntry) SetChecksum(c byte) { e.Data[lChksum] = c }
func (e *LongEntry) IsDeleted() bool   { return e.Data[lOrd] == deletedMarker }
func (e *LongEntry) IsFree() bool      { return e.Data[lOrd] == freeMarker }

// NewLongEntry builds a blank LFN fragment with its invariant fields set.
func NewLongEntry() *LongEntry {
	e := &LongEntry{}
	e.Data[lAttr] = AttrLFN
	e.Data[lType] = 0
	binary.LittleEndian.PutUint16(e.Data[lFstClus:], 0)
	return e
}

// units13 returns the 13 UTF-16 code unit slots of a fragment, in the
// on-disk name1/name2/name3 split order.
func (e *LongEntry) units13() []int {
	offs := make([]int, 0, 13)
	for i := 0; i < 5; i++ {
		offs = append(offs, lName1+2*i)
	}
	for i := 0; i < 6; i++ {
		offs = append(offs, lName2+2*i)
	}
	for i := 0; i < 2; i++ {
		offs = append(offs, lName3+2*i)
	}
	return offs
}

// SetUnits writes up to 13 UTF-16 code units into the fragment, NUL
// terminating and 0xFFFF-padding per the FAT32 LFN convention.
func (e *LongEntry) SetUnits(units []uint16) {
	offs := e.units13()
	terminated := false
	for i, off := range offs {
		var v uint16
		if i < len(units) {
			v = units[i]
		} else if !terminated {
			v = 0x0000
			terminated = true
		} else {
			v = 0xFFFF
		}
		binary.LittleEndian.PutUint16(e.Data[off:], v)
	}
}

// Units reads the 13 raw UTF-16 code units back out of the fragment.
func (e *LongEntry) Units() []uint16 {
	offs := e.units13()
	out := make([]uint16, 13)
	for i, off := range offs {
		out[i] = binary.LittleEndian.Uint16(e.Data[off:])
	}
	return out
}

var utf16LEEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16LE transcodes a Go string into raw little-endian UTF-16
// code units using golang.org/x/text/encoding/unicode, the wire
// encoding FAT long names require.
func EncodeUTF16LE(s string) ([]uint16, error) {
	b, _, err := transform.Bytes(utf16LEEncoding.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("fatfs: utf16 encode %q: %w", s, err)
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return units, nil
}

// DecodeUTF16LE is the inverse of EncodeUTF16LE.
func DecodeUTF16LE(units []uint16) (string, error) {
	b := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	out, _, err := transform.Bytes(utf16LEEncoding.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("fatfs: utf16 decode: %w", err)
	}
	return string(out), nil
}

// ShortNameFor derives an 8.3 name for longName, applying the standard
// truncation-with-~N-tail rule when candidate collides. exists reports whether a derived candidate is already taken.
func ShortNameFor(longName string, exists func(name [11]byte) bool) [11]byte {
	base, ext := split83(longName)
	var n [11]byte
	for i := range n {
		n[i] = ' '
	}
	copy(n[0:8], []byte(base))
	copy(n[8:11], []byte(ext))
	if !needsLFN(longName) && !exists(n) {
		return n
	}
	for tail := 1; tail < 1_000_000; tail++ {
		suffix := fmt.Sprintf("~%d", tail)
		cut := 8 - len(suffix)
		if cut < 1 {
			cut = 1
		}
		b := base
		if len(b) > cut {
			b = b[:cut]
		}
		var cand [11]byte
		for i := range cand {
			cand[i] = ' '
		}
		copy(cand[0:8], []byte(strings.ToUpper(b)+suffix))
		copy(cand[8:11], []byte(ext))
		if !exists(cand) {
			return cand
		}
	}
	return n
}

func needsLFN(name string) bool {
	base, ext := split83(name)
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return true
		}
		if r == ' ' {
			return true
		}
	}
	return name != strings.ToUpper(name)
}

func split83(name string) (base, ext string) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return strings.ToUpper(sanitize83(name)), ""
	}
	return strings.ToUpper(sanitize83(name[:dot])), strings.ToUpper(sanitize83(name[dot+1:]))
}

func sanitize83(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TrimShortName renders the 11-byte 8.3 field back into "NAME.EXT" form.
func TrimShortName(n [11]byte) string {
	base := strings.TrimRight(string(n[0:8]), " ")
	ext := strings.TrimRight(string(n[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
