// Package pipe implements the anonymous in-kernel pipe fdops.Fdops_i
// reader/writer pair: a pipe is just another thing a Fd_t's Fops can
// point at, with no filesystem backing at all.
package pipe

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/fdops"
)

const bufferSize = 4096

// buffer is the shared ring both ends of a pipe reference.
type buffer struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	data       []byte
	readers    int
	writers    int
	readClosed bool
}

func newBuffer() *buffer {
	b := &buffer{}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// New creates a connected (*Reader, *Writer) pair.
func New() (*Reader, *Writer) {
	b := newBuffer()
	b.readers, b.writers = 1, 1
	return &Reader{b: b}, &Writer{b: b}
}

// Reader is the read end of a pipe.
type Reader struct{ b *buffer }

func (r *Reader) Read(dst []byte) (int, defs.Err_t) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for len(r.b.data) == 0 {
		if r.b.writers == 0 {
			return 0, 0 // EOF: every writer has closed
		}
		r.b.notEmpty.Wait()
	}
	n := copy(dst, r.b.data)
	r.b.data = r.b.data[n:]
	r.b.notFull.Signal()
	return n, 0
}

func (r *Reader) Write([]byte) (int, defs.Err_t) { return 0, -defs.EBADF }

func (r *Reader) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Mode = 0010000 // S_IFIFO
	return 0
}

func (r *Reader) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (r *Reader) Reopen() defs.Err_t {
	r.b.mu.Lock()
	r.b.readers++
	r.b.mu.Unlock()
	return 0
}

func (r *Reader) Close() defs.Err_t {
	r.b.mu.Lock()
	r.b.readers--
	if r.b.readers == 0 {
		r.b.readClosed = true
		r.b.notFull.Broadcast()
	}
	r.b.mu.Unlock()
	return 0
}

// Writer is the write end of a pipe.
type Writer struct{ b *buffer }

func (w *Writer) Read([]byte) (int, defs.Err_t) { return 0, -defs.EBADF }

func (w *Writer) Write(src []byte) (int, defs.Err_t) {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	if w.b.readClosed {
		return 0, -defs.EPERM
	}
	for len(w.b.data) >= bufferSize {
		if w.b.readClosed {
			return 0, -defs.EPERM
		}
		w.b.notFull.Wait()
	}
	room := bufferSize - len(w.b.data)
	n := len(src)
	if n > room {
		n = room
	}
	w.b.data = append(w.b.data, src[:n]...)
	w.b.notEmpty.Signal()
	return n, 0
}

func (w *Writer) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Mode = 0010000
	return 0
}

func (w *Writer) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (w *Writer) Reopen() defs.Err_t {
	w.b.mu.Lock()
	w.b.writers++
	w.b.mu.Unlock()
	return 0
}

func (w *Writer) Close() defs.Err_t {
	w.b.mu.Lock()
	w.b.writers--
	if w.b.writers == 0 {
		w.b.notEmpty.Broadcast()
	}
	w.b.mu.Unlock()
	return 0
}
