// Package syscall dispatches the numeric syscall ID table a trap
// handler would decode out of a7 to the proc and
// fatfs layers. The trap entry/exit assembly that would call this
// package from an ecall is out of scope; Handle is
// the contract such a trap handler would call into.
package syscall

// Syscall numbers this kernel implements.
const (
	SYS_GETCWD     = 17
	SYS_DUP        = 23
	SYS_DUP3       = 24
	SYS_MKDIRAT    = 34
	SYS_UNLINKAT   = 35
	SYS_UMOUNT2    = 39
	SYS_MOUNT      = 40
	SYS_CHDIR      = 49
	SYS_OPENAT     = 56
	SYS_CLOSE      = 57
	SYS_PIPE2      = 59
	SYS_GETDENTS64 = 61
	SYS_READ       = 63
	SYS_WRITE      = 64
	SYS_FSTAT      = 80
	SYS_EXIT       = 93
	SYS_NANOSLEEP  = 101
	SYS_SCHED_YIELD = 124
	SYS_TIMES      = 153
	SYS_UNAME      = 160
	SYS_GETPID     = 172
	SYS_GETPPID    = 173
	SYS_BRK        = 214
	SYS_MUNMAP     = 215
	SYS_FORK       = 220
	SYS_EXECVE     = 221
	SYS_MMAP       = 222
	SYS_WAIT4      = 260
)
