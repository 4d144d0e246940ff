package fuselink

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/sirupsen/logrus"

	"github.com/hach-que/systemd-packaged/appfs"
)

// MountOptions controls how a package is attached to the host VFS.
type MountOptions struct {
	// AllowOther lets users other than the mounting user access the
	// filesystem.
	AllowOther bool
	// Debug enables FUSE protocol tracing.
	Debug bool
	// Logger receives mount lifecycle messages; defaults to the standard
	// logrus logger.
	Logger logrus.FieldLogger
}

// Mounter holds a mounted package until Serve returns.
type Mounter struct {
	pkg    *appfs.FileSystem
	server *fuse.Server
}

// Mount opens the package at image and attaches it at mountpoint. The mount
// is single-threaded; the core assumes one logical agent operates on the
// package at a time.
func Mount(image, mountpoint string, opts MountOptions) (*Mounter, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	pkg, err := appfs.Open(image)
	if err != nil {
		return nil, err
	}

	nfs := pathfs.NewPathNodeFs(newPackageFS(pkg, log), nil)

	nodeOpts := nodefs.NewOptions()
	nodeOpts.AttrTimeout = 0
	nodeOpts.EntryTimeout = 0
	nodeOpts.Debug = opts.Debug

	conn := nodefs.NewFileSystemConnector(nfs.Root(), nodeOpts)
	server, err := fuse.NewServer(conn.RawFS(), mountpoint, &fuse.MountOptions{
		Name:           "appfs",
		FsName:         image,
		AllowOther:     opts.AllowOther,
		SingleThreaded: true,
		Debug:          opts.Debug,
		Options:        []string{"default_permissions"},
	})
	if err != nil {
		_ = pkg.Close()
		return nil, fmt.Errorf("unable to mount package: %w", err)
	}

	log.Infof("package %s mounted at %s", image, mountpoint)
	return &Mounter{pkg: pkg, server: server}, nil
}

// Serve answers requests until the filesystem is unmounted.
func (m *Mounter) Serve() {
	m.server.Serve()
	_ = m.pkg.Close()
}

// Unmount detaches the filesystem.
func (m *Mounter) Unmount() error {
	return m.server.Unmount()
}
