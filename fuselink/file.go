package fuselink

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/hach-que/systemd-packaged/appfs"
)

// packageFile is the per-open handle handed back to FUSE. The core keeps no
// open state of its own, so the handle re-opens the stream per call with the
// caller's offset; read and write positions therefore never interfere across
// handles.
type packageFile struct {
	nodefs.File
	fs   *packageFS
	path string
}

func newPackageFile(fs *packageFS, path string) nodefs.File {
	return &packageFile{
		File: nodefs.NewDefaultFile(),
		fs:   fs,
		path: path,
	}
}

func (f *packageFile) String() string {
	return "appfs:" + f.path
}

func (f *packageFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	if off > appfs.MaxFileSize || off+int64(len(dest)) > appfs.MaxFileSize {
		return nil, fuse.Status(syscall.EFBIG)
	}
	if err := f.fs.pkg.Touch(f.path, "a"); err != nil {
		return nil, errnoStatus(err)
	}
	stream, err := f.fs.pkg.Open(f.path)
	if err != nil {
		return nil, errnoStatus(err)
	}
	stream.SeekG(off)
	n, rerr := stream.Read(dest)
	stream.Close()
	if stream.Fail() || stream.Bad() {
		return nil, fuse.EIO
	}
	if rerr != nil && n == 0 {
		// End of file.
		return fuse.ReadResultData(dest[:0]), fuse.OK
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *packageFile) Write(data []byte, off int64) (uint32, fuse.Status) {
	if off > appfs.MaxFileSize || off+int64(len(data)) > appfs.MaxFileSize {
		return 0, fuse.Status(syscall.EFBIG)
	}
	if err := f.fs.pkg.Touch(f.path, "cma"); err != nil {
		return 0, errnoStatus(err)
	}
	stream, err := f.fs.pkg.Open(f.path)
	if err != nil {
		return 0, errnoStatus(err)
	}
	stream.SeekP(off)
	n, werr := stream.Write(data)
	stream.Close()
	if werr != nil || stream.Fail() || stream.Bad() {
		return uint32(n), fuse.EIO
	}
	return uint32(n), fuse.OK
}

func (f *packageFile) Truncate(size uint64) fuse.Status {
	return errnoStatus(f.fs.pkg.Truncate(f.path, int64(size)))
}

func (f *packageFile) GetAttr(out *fuse.Attr) fuse.Status {
	st, err := f.fs.pkg.GetAttr(f.path)
	if err != nil {
		return errnoStatus(err)
	}
	fillAttr(st, out)
	return fuse.OK
}

func (f *packageFile) Flush() fuse.Status {
	return fuse.OK
}

func (f *packageFile) Release() {
}
