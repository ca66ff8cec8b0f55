// Package elfload walks a user ELF64 binary's program headers via the
// standard library's debug/elf, turning its PT_LOAD segments into the
// plain Segment list an address space builder maps in.
package elfload

import (
	"debug/elf"
	"fmt"
)

// Segment is one PT_LOAD program header together with its file bytes.
type Segment struct {
	VAddr      uint64
	MemSize    uint64
	Data       []byte // file-backed bytes; len(Data) <= MemSize
	Readable   bool
	Writable   bool
	Executable bool
}

// Image is a parsed ELF64 RISC-V executable ready to be mapped into an
// address space.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Load parses data as an ELF64 executable and returns its entry point
// and loadable segments.
func Load(data []byte) (*Image, error) {
	f, err := elf.NewFile(byteReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfload: only ELFCLASS64 binaries are supported")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfload: expected EM_RISCV, got %v", f.Machine)
	}

	img := &Image{Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("elfload: read segment at %#x: %w", p.Vaddr, err)
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:      p.Vaddr,
			MemSize:    p.Memsz,
			Data:       data,
			Readable:   p.Flags&elf.PF_R != 0,
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}
	return img, nil
}

// byteReaderAt adapts a plain byte slice to io.ReaderAt for elf.NewFile.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("elfload: offset %d out of range", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("elfload: short read at offset %d", off)
	}
	return n, nil
}
