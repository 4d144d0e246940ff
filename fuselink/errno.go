package fuselink

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/hach-que/systemd-packaged/appfs"
)

// errnoStatus translates the package filesystem's error kinds into FUSE
// status codes. Conditions that indicate on-disk damage or library bugs
// (invalid paths after validation, inode bookkeeping failures, the directory
// child limit) all surface as EIO.
func errnoStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, appfs.ErrFileNotFound), errors.Is(err, appfs.ErrPackageNotFound):
		return fuse.ENOENT
	case errors.Is(err, appfs.ErrNoFreeSpace):
		return fuse.Status(syscall.ENOSPC)
	case errors.Is(err, appfs.ErrAccessDenied):
		return fuse.EACCES
	case errors.Is(err, appfs.ErrFileExists):
		return fuse.Status(syscall.EEXIST)
	case errors.Is(err, appfs.ErrNotADirectory):
		return fuse.ENOTDIR
	case errors.Is(err, appfs.ErrIsADirectory):
		return fuse.Status(syscall.EISDIR)
	case errors.Is(err, appfs.ErrDirectoryNotEmpty):
		return fuse.Status(syscall.ENOTEMPTY)
	case errors.Is(err, appfs.ErrFileTooBig):
		return fuse.Status(syscall.EFBIG)
	case errors.Is(err, appfs.ErrNotSupported):
		return fuse.Status(syscall.ENOTSUP)
	case errors.Is(err, appfs.ErrFilenameTooLong):
		return fuse.Status(syscall.ENAMETOOLONG)
	default:
		return fuse.EIO
	}
}
