// Package bpath canonicalizes and splits the absolute paths the kernel
// resolves against the FAT32 volume: every path in is always
// collapsed, absolute, and slash-separated out.
package bpath

import (
	"path"
	"strings"

	"rvkernel/ustr"
)

// Canonicalize collapses "." and ".." components and duplicate slashes,
// always returning an absolute path starting with "/". Unlike
// WiCOS64's Normalize, ".." is permitted (POSIX cwd-relative lookups
// need it) and is resolved lexically.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	s := string(p)
	if s == "" {
		return ustr.MkUstrRoot()
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	cleaned := path.Clean(s)
	if cleaned == "." {
		cleaned = "/"
	}
	return ustr.FromString(cleaned)
}

// Split breaks a canonical absolute path into its non-empty components.
// Split(Canonicalize("/")) returns an empty slice.
func Split(p ustr.Ustr) []string {
	c := string(Canonicalize(p))
	parts := strings.Split(c, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Join re-assembles path components into a canonical absolute path.
func Join(components []string) ustr.Ustr {
	if len(components) == 0 {
		return ustr.MkUstrRoot()
	}
	return ustr.FromString("/" + strings.Join(components, "/"))
}

// Dir and Base split the final component off a canonical path, the way
// callers resolving "mkdir -p parent; create child" need.
func Dir(p ustr.Ustr) ustr.Ustr {
	comps := Split(p)
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return Join(comps[:len(comps)-1])
}

// Base returns the final path component, or "" for the root.
func Base(p ustr.Ustr) string {
	comps := Split(p)
	if len(comps) == 0 {
		return ""
	}
	return comps[len(comps)-1]
}
