// Package fuselink bridges a package filesystem into the host VFS through
// FUSE. It installs the path-based operation vtable and forwards each call
// into the core, setting uid and gid from the calling context first.
package fuselink

import (
	"path"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/sirupsen/logrus"

	"github.com/hach-que/systemd-packaged/appfs"
)

// packageFS adapts a package filesystem to the pathfs operation set. All
// paths arriving from FUSE are relative to the mount root without a leading
// slash.
type packageFS struct {
	pathfs.FileSystem
	pkg *appfs.FileSystem
	log logrus.FieldLogger
}

// newPackageFS wraps an opened package.
func newPackageFS(pkg *appfs.FileSystem, log logrus.FieldLogger) *packageFS {
	return &packageFS{
		FileSystem: pathfs.NewDefaultFileSystem(),
		pkg:        pkg,
		log:        log,
	}
}

func (fs *packageFS) String() string {
	return "appfs"
}

// setContext applies the calling process's credentials before every
// operation, so created inodes carry the caller's ownership.
func (fs *packageFS) setContext(context *fuse.Context) {
	if context == nil {
		return
	}
	fs.pkg.SetUID(context.Uid)
	fs.pkg.SetGID(context.Gid)
}

func fillAttr(st *appfs.Stat, out *fuse.Attr) {
	out.Ino = st.Ino
	out.Size = uint64(st.Size)
	out.Blocks = uint64(st.Blocks)
	out.Blksize = uint32(st.Blksize)
	out.Atime = uint64(st.Atime)
	out.Mtime = uint64(st.Mtime)
	out.Ctime = uint64(st.Ctime)
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Owner = fuse.Owner{Uid: st.UID, Gid: st.GID}
	out.Rdev = uint32(st.Rdev)
}

func (fs *packageFS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	fs.setContext(context)
	st, err := fs.pkg.GetAttr("/" + name)
	if err != nil {
		return nil, errnoStatus(err)
	}
	var out fuse.Attr
	fillAttr(st, &out)
	return &out, fuse.OK
}

func (fs *packageFS) Readlink(name string, context *fuse.Context) (string, fuse.Status) {
	fs.setContext(context)
	target, err := fs.pkg.Readlink("/" + name)
	if err != nil {
		return "", errnoStatus(err)
	}
	return target, fuse.OK
}

func (fs *packageFS) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Mknod("/"+name, mode, uint64(dev)))
}

func (fs *packageFS) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Mkdir("/"+name, mode))
}

func (fs *packageFS) Unlink(name string, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Unlink("/" + name))
}

func (fs *packageFS) Rmdir(name string, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Rmdir("/" + name))
}

func (fs *packageFS) Symlink(value string, linkName string, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Symlink("/"+linkName, value))
}

func (fs *packageFS) Rename(oldName string, newName string, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Rename("/"+oldName, "/"+newName))
}

func (fs *packageFS) Link(oldName string, newName string, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Link("/"+newName, "/"+oldName))
}

func (fs *packageFS) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Chmod("/"+name, mode))
}

func (fs *packageFS) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Chown("/"+name, int(int32(uid)), int(int32(gid))))
}

func (fs *packageFS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	return errnoStatus(fs.pkg.Truncate("/"+name, int64(size)))
}

func (fs *packageFS) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	fs.setContext(context)
	f, err := fs.pkg.Open("/" + name)
	if err != nil {
		return nil, errnoStatus(err)
	}
	f.Close()
	return newPackageFile(fs, "/"+name), fuse.OK
}

func (fs *packageFS) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	fs.setContext(context)
	if err := fs.pkg.Create("/"+name, mode); err != nil {
		return nil, errnoStatus(err)
	}
	return newPackageFile(fs, "/"+name), fuse.OK
}

func (fs *packageFS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	fs.setContext(context)
	names, err := fs.pkg.ReadDir("/" + name)
	if err != nil {
		return nil, errnoStatus(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, n := range names {
		entry := fuse.DirEntry{Name: n}
		if st, err := fs.pkg.GetAttr(path.Join("/", name, n)); err == nil {
			entry.Mode = st.Mode
			entry.Ino = st.Ino
		}
		entries = append(entries, entry)
	}
	return entries, fuse.OK
}

func (fs *packageFS) Utimens(name string, atime *time.Time, mtime *time.Time, context *fuse.Context) fuse.Status {
	fs.setContext(context)
	var a, m int64
	if atime != nil {
		a = atime.Unix()
	}
	if mtime != nil {
		m = mtime.Unix()
	}
	return errnoStatus(fs.pkg.Utimens("/"+name, a, m))
}

func (fs *packageFS) Access(name string, mode uint32, context *fuse.Context) fuse.Status {
	// Permission checks beyond default_permissions are a future hook.
	return fuse.OK
}
