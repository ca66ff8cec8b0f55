// Package ustr provides the small immutable-ish path/name string type
// the kernel passes across the syscall boundary, a byte slice rather
// than a Go string so path handling doesn't round-trip through an
// extra copy at every syscall.
package ustr

// Ustr is a path or name as raw bytes.
type Ustr []byte

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns the Ustr for "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns the Ustr for ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is a reusable Ustr for "..".
var DotDot = Ustr{'.', '.'}

// FromString converts a Go string to an Ustr.
func FromString(s string) Ustr { return Ustr(s) }

// String renders the Ustr back to a Go string.
func (us Ustr) String() string { return string(us) }

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool { return len(us) > 0 && us[0] == '/' }

// Isdot reports whether us equals ".".
func (us Ustr) Isdot() bool { return len(us) == 1 && us[0] == '.' }

// Isdotdot reports whether us equals "..".
func (us Ustr) Isdotdot() bool { return len(us) == 2 && us[0] == '.' && us[1] == '.' }

// Eq reports byte-for-byte equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// Extend appends '/' and p to us and returns the result as a new Ustr.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us), len(us)+1+len(p))
	copy(tmp, us)
	tmp = append(tmp, '/')
	return append(tmp, p...)
}

// ExtendStr is Extend for a plain Go string.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// MkUstrSlice truncates buf at the first NUL byte, turning a
// user-copied C string into an Ustr.
func MkUstrSlice(buf []byte) Ustr {
	for i, b := range buf {
		if b == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}
