// Package stdio implements the console device as an fdops.Fdops_i,
// behind the same seam every other file descriptor uses.
package stdio

import (
	"bufio"
	"io"
	"sync"

	"rvkernel/defs"
	"rvkernel/fdops"
)

// Console is an Fdops_i over arbitrary reader/writer streams, so tests
// can substitute in-memory pipes for a real TTY. Input is read through
// a bufio.Reader; output goes straight to the writer, unbuffered.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// New wraps in/out as the console device's backing streams.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

func (c *Console) Read(dst []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.in.Read(dst)
	if err != nil && err != io.EOF {
		return n, -defs.EIO
	}
	return n, 0
}

func (c *Console) Write(src []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.out.Write(src)
	if err != nil {
		return n, -defs.EIO
	}
	return n, 0
}

func (c *Console) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.SetDev(int(defs.D_CONSOLE), 0)
	st.Mode = 0020000 // S_IFCHR
	return 0
}

func (c *Console) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (c *Console) Reopen() defs.Err_t                { return 0 }
func (c *Console) Close() defs.Err_t                 { return 0 }
