package syscall

import (
	"fmt"

	"rvkernel/proc"
	"rvkernel/vmm"
)

const maxPathLen = 4096

// readCString reads a NUL-terminated string out of task's user memory
// starting at uva, one byte at a time, the way a trap handler's
// translated_str walks an unknown-length user buffer.
func readCString(task *proc.Task, uva uint64) (string, error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for i := 0; i < maxPathLen; i++ {
		ub := vmm.NewUserBuffer(task.AS, uva+uint64(i), 1)
		if _, err := ub.Uioread(one); err != nil {
			return "", fmt.Errorf("syscall: read user string at %#x: %w", uva, err)
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return "", fmt.Errorf("syscall: user string at %#x exceeds %d bytes", uva, maxPathLen)
}

// readUserBytes copies n bytes of user memory at uva into a fresh slice.
func readUserBytes(task *proc.Task, uva uint64, n int) ([]byte, error) {
	dst := make([]byte, n)
	ub := vmm.NewUserBuffer(task.AS, uva, n)
	if _, err := ub.Uioread(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// writeUserBytes copies src into task's user memory at uva.
func writeUserBytes(task *proc.Task, uva uint64, src []byte) (int, error) {
	ub := vmm.NewUserBuffer(task.AS, uva, len(src))
	return ub.Uiowrite(src)
}
