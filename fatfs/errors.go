package fatfs

import "errors"

var (
	ErrNotFound      = errors.New("fatfs: not found")
	ErrExists        = errors.New("fatfs: already exists")
	ErrNotDir        = errors.New("fatfs: not a directory")
	ErrIsDir         = errors.New("fatfs: is a directory")
	ErrDirFull       = errors.New("fatfs: directory cannot grow")
	ErrNoSpace       = errors.New("fatfs: out of clusters")
	ErrInvalidChain  = errors.New("fatfs: invalid cluster chain")
	ErrBadBPB        = errors.New("fatfs: invalid boot parameter block")
	ErrClosed        = errors.New("fatfs: handle invalid after remove")
)
