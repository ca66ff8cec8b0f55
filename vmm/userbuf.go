package vmm

import "fmt"

// UserBuffer assists reading and writing a span of user virtual memory
// that may cross page boundaries, translating one page at a time.
type UserBuffer struct {
	as  *AddressSpace
	uva uint64
	len int
	off int
}

// NewUserBuffer builds a buffer over [uva, uva+length) in as.
func NewUserBuffer(as *AddressSpace, uva uint64, length int) *UserBuffer {
	return &UserBuffer{as: as, uva: uva, len: length}
}

// Remain reports how many bytes of the buffer haven't been transferred
// yet.
func (ub *UserBuffer) Remain() int { return ub.len - ub.off }

// Totalsz reports the buffer's total length.
func (ub *UserBuffer) Totalsz() int { return ub.len }

// pageBytes returns the writable/readable byte slice covering the
// buffer's current offset, up to the end of its containing page.
func (ub *UserBuffer) pageBytes(write bool) ([]byte, error) {
	va := ub.uva + uint64(ub.off)
	vpn := va / PageSize
	pte, ok := ub.as.Translate(vpn)
	if !ok {
		return nil, fmt.Errorf("vmm: user address %#x not mapped", va)
	}
	if !pte.Readable() && !write {
		return nil, fmt.Errorf("vmm: user address %#x not readable", va)
	}
	if write && !pte.Writable() {
		return nil, fmt.Errorf("vmm: user address %#x not writable", va)
	}
	frame := ub.as.frames.Get(pte.PPN())
	pageOff := int(va % PageSize)
	return frame[pageOff:], nil
}

func (ub *UserBuffer) tx(buf []byte, write bool) (int, error) {
	done := 0
	for len(buf) > 0 && ub.off != ub.len {
		page, err := ub.pageBytes(write)
		if err != nil {
			return done, err
		}
		n := len(page)
		if rem := ub.len - ub.off; n > rem {
			n = rem
		}
		if n > len(buf) {
			n = len(buf)
		}
		if write {
			copy(page[:n], buf[:n])
		} else {
			copy(buf[:n], page[:n])
		}
		buf = buf[n:]
		ub.off += n
		done += n
	}
	return done, nil
}

// Uioread copies from user memory into dst.
func (ub *UserBuffer) Uioread(dst []byte) (int, error) { return ub.tx(dst, false) }

// Uiowrite copies src into user memory.
func (ub *UserBuffer) Uiowrite(src []byte) (int, error) { return ub.tx(src, true) }
