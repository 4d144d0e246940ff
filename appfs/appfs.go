// Package appfs reads and writes AppFS application packages: single files
// that carry an entire application tree (files, directories, symlinks,
// hardlinks, device nodes, permissions, ownership and timestamps) inside a
// block-addressed filesystem.
package appfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileSystem exposes the package contents through path-level filesystem
// operations. Exactly one FileSystem should hold a package at a time; the
// on-disk format has no provision for concurrent writers.
type FileSystem struct {
	stream *BlockStream
	low    *lowlevel
	uid    uint16
	gid    uint16
}

// Stat describes a filesystem object inside a package.
type Stat struct {
	Ino     uint64
	Dev     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// PackageInfo is the application metadata stored in the filesystem
// information block.
type PackageInfo struct {
	VersionMajor     uint16
	VersionMinor     uint16
	VersionRevision  uint16
	AppName          string
	AppVersion       string
	AppDescription   string
	AppAuthor        string
	RootPosition     uint32
	FreeListPosition uint32
}

// Open opens an existing package for read/write access.
func Open(path string) (*FileSystem, error) {
	stream, err := OpenBlockStream(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrPackageNotFound)
	}
	low := newLowlevel(stream)
	info := low.rawInodeAt(OffsetFSInfo)
	if info.itype != typeFSInfo || info.magic != fsMagic {
		_ = stream.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrPackageNotValid)
	}
	return &FileSystem{stream: stream, low: low}, nil
}

// Close releases the package file.
func (fs *FileSystem) Close() error {
	return fs.low.close()
}

// SetUID sets the uid applied to subsequently created inodes.
func (fs *FileSystem) SetUID(uid uint32) {
	fs.uid = uint16(uid)
}

// SetGID sets the gid applied to subsequently created inodes.
func (fs *FileSystem) SetGID(gid uint32) {
	fs.gid = uint16(gid)
}

// Info returns the package's application metadata.
func (fs *FileSystem) Info() (*PackageInfo, error) {
	node := fs.low.rawInodeAt(OffsetFSInfo)
	if node.itype != typeFSInfo {
		return nil, ErrInternalInconsistency
	}
	return &PackageInfo{
		VersionMajor:     node.verMajor,
		VersionMinor:     node.verMinor,
		VersionRevision:  node.verRevision,
		AppName:          node.appName,
		AppVersion:       node.appVersion,
		AppDescription:   node.appDesc,
		AppAuthor:        node.appAuthor,
		RootPosition:     node.posRoot,
		FreeListPosition: node.posFreeList,
	}, nil
}

// GetAttr fills a Stat record for the object at path.
func (fs *FileSystem) GetAttr(path string) (*Stat, error) {
	node, err := fs.inodeForPath(path)
	if err != nil {
		return nil, err
	}

	switch node.itype {
	case typeDirectory, typeFileInfo, typeSymlink, typeDevice, typeHardlink:
	default:
		return nil, ErrFileNotFound
	}
	if node.itype == typeHardlink {
		node = node.resolve(fs.low)
	}

	st := &Stat{
		Ino:   uint64(node.id),
		Dev:   uint64(node.dev),
		Mode:  uint32(node.mask),
		Nlink: uint32(node.nlink),
		UID:   uint32(node.uid),
		GID:   uint32(node.gid),
		Rdev:  uint64(node.rdev),
		Atime: node.atime,
		Mtime: node.mtime,
		Ctime: node.ctime,
	}

	switch node.itype {
	case typeFileInfo, typeSymlink, typeDevice:
		st.Size = int64(node.dataLen)
		st.Blksize = BlockSize
		st.Blocks = int64(node.blocks)
		if node.itype == typeFileInfo {
			st.Mode |= unix.S_IFREG
		} else if node.itype == typeSymlink {
			st.Mode |= unix.S_IFLNK
		}
	case typeDirectory:
		st.Size = BlockSize
		st.Blksize = BlockSize
		st.Blocks = 1
		st.Mode |= unix.S_IFDIR
	default:
		return nil, ErrInternalInconsistency
	}
	return st, nil
}

// Readlink returns the target path stored in a symbolic link.
func (fs *FileSystem) Readlink(path string) (string, error) {
	node, err := fs.inodeForPath(path)
	if err != nil {
		return "", err
	}
	if node.itype != typeSymlink {
		return "", ErrNotSupported
	}

	f := fs.low.file(node.id)
	f.Open()
	buf := make([]byte, node.dataLen)
	n, rerr := f.Read(buf)
	f.Close()
	if uint32(n) != node.dataLen || (rerr != nil && n == 0 && node.dataLen > 0) {
		return "", ErrInternalInconsistency
	}
	return string(buf[:n]), nil
}

// Mknod creates a device inode; dev and rdev are taken from the minor and
// major halves of devid.
func (fs *FileSystem) Mknod(path string, mode uint32, devid uint64) error {
	_, err := fs.performCreation(typeDevice, path, mode, func(n *inode) {
		n.dev = uint16(unix.Minor(devid))
		n.rdev = uint16(unix.Major(devid))
	})
	return err
}

// Mkdir creates a directory.
func (fs *FileSystem) Mkdir(path string, mode uint32) error {
	_, err := fs.performCreation(typeDirectory, path, mode, func(n *inode) {})
	return err
}

// Unlink removes a file, symlink, device or hardlink entry. When the
// directory entry was a hardlink, the hardlink block is freed as well; the
// backing inode itself is destroyed only when its link count drops to zero.
func (fs *FileSystem) Unlink(path string) error {
	child, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	parent, err := fs.parentForPath(path)
	if err != nil {
		return err
	}

	if child.itype == typeDirectory {
		return ErrIsADirectory
	}
	if child.itype != typeFileInfo && child.itype != typeSymlink && child.itype != typeDevice {
		return ErrInternalInconsistency
	}

	pos := fs.low.inodePosition(child.id)
	if pos == 0 {
		return ErrInternalInconsistency
	}

	// entry is the inode the directory actually references: the raw
	// hardlink when the path went through one, otherwise child itself.
	entry := child.resolve(fs.low)

	switch err := fs.low.removeChild(parent.id, entry.id); err {
	case nil:
	case errNotADirectory:
		return ErrNotADirectory
	case errInvalidFilename:
		return ErrFileNotFound
	default:
		return ErrInternalInconsistency
	}

	if entry.id != child.id {
		rpos := fs.low.inodePosition(entry.id)
		if fs.low.resetBlock(rpos) != nil {
			return ErrInternalInconsistency
		}
		if fs.low.setInodePosition(entry.id, 0) != nil {
			return ErrInternalInconsistency
		}
	}

	child.nlink--
	child.ctime = now()
	if child.nlink == 0 {
		// Release the data blocks before the inode block itself. Device
		// inodes never own data blocks.
		if child.itype != typeDevice {
			if err := fs.low.truncateFile(child.id, 0); err != nil {
				return ErrInternalInconsistency
			}
		}
		if fs.low.resetBlock(pos) != nil {
			return ErrInternalInconsistency
		}
		if fs.low.setInodePosition(child.id, 0) != nil {
			return ErrInternalInconsistency
		}
		return nil
	}
	return fs.saveInode(child)
}

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(path string) error {
	child, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	parent, err := fs.parentForPath(path)
	if err != nil {
		return err
	}

	if child.itype != typeDirectory {
		return ErrNotADirectory
	}
	if child.childrenCount != 0 {
		return ErrDirectoryNotEmpty
	}

	pos := fs.low.inodePosition(child.id)
	if pos == 0 {
		return ErrInternalInconsistency
	}

	switch err := fs.low.removeChild(parent.id, child.id); err {
	case nil:
	case errNotADirectory:
		return ErrNotADirectory
	case errInvalidFilename:
		return ErrFileNotFound
	default:
		return ErrInternalInconsistency
	}

	if fs.low.resetBlock(pos) != nil {
		return ErrInternalInconsistency
	}
	if fs.low.setInodePosition(child.id, 0) != nil {
		return ErrInternalInconsistency
	}
	return nil
}

// Symlink creates a symbolic link at linkPath whose target is targetPath.
func (fs *FileSystem) Symlink(linkPath, targetPath string) error {
	if _, err := fs.performCreation(typeSymlink, linkPath, 0o755, func(n *inode) {}); err != nil {
		return err
	}

	node, err := fs.inodeForPath(linkPath)
	if err != nil {
		return ErrInternalInconsistency
	}

	f := fs.low.file(node.id)
	f.Open()
	_, werr := f.Write([]byte(targetPath))
	f.Close()
	if werr != nil || f.Fail() || f.Bad() {
		// The link was created but its target could not be stored; take the
		// partially-created entry out again before reporting.
		_ = fs.Unlink(linkPath)
		if werr == nil {
			werr = ErrInternalInconsistency
		}
		return werr
	}
	return nil
}

// Rename moves src to dest, replacing dest when it already exists and the
// caller is permitted to do so.
func (fs *FileSystem) Rename(src, dest string) error {
	if err := fs.ensurePathRenamability(dest, fs.uid); err != nil {
		return err
	}
	if err := fs.ensurePathExists(src); err != nil {
		return err
	}

	child, err := fs.inodeForPath(src)
	if err != nil {
		return err
	}
	srcParent, err := fs.parentForPath(src)
	if err != nil {
		return err
	}
	destParent, err := fs.parentForPath(dest)
	if err != nil {
		return err
	}

	// A pre-existing destination is replaced.
	if prev, err := fs.inodeForPath(dest); err == nil {
		if prev.itype == typeDirectory {
			if err := fs.Rmdir(dest); err != nil {
				return err
			}
		} else {
			if err := fs.Unlink(dest); err != nil {
				return err
			}
		}
	}

	if srcParent.id != destParent.id {
		switch err := fs.low.addChild(destParent.id, child.id); err {
		case nil:
		case errNotADirectory:
			return ErrNotADirectory
		case errMaximumChildren:
			return ErrChildLimitReached
		default:
			return ErrInternalInconsistency
		}
		switch err := fs.low.removeChild(srcParent.id, child.id); err {
		case nil:
		case errNotADirectory:
			return ErrNotADirectory
		case errInvalidFilename:
			return ErrFileNotFound
		default:
			return ErrInternalInconsistency
		}
	}

	child.filename = clampName(basename(dest))
	if child.itype == typeDirectory {
		child.parent = destParent.id
	}
	fs.touchInode(child, "c")
	return fs.saveInode(child)
}

// Link creates a hardlink at linkPath aliasing the plain file or device at
// targetPath.
func (fs *FileSystem) Link(linkPath, targetPath string) error {
	if err := fs.ensurePathIsAvailable(linkPath); err != nil {
		return err
	}
	if err := fs.ensurePathExists(targetPath); err != nil {
		return err
	}

	child, err := fs.inodeForPath(targetPath)
	if err != nil {
		return err
	}
	if child.itype == typeDirectory {
		return ErrIsADirectory
	}
	if child.itype != typeFileInfo && child.itype != typeDevice {
		return ErrNotSupported
	}

	if _, err := fs.parentForPath(linkPath); err != nil {
		return err
	}

	if _, err := fs.performCreation(typeHardlink, linkPath, 0o000, func(n *inode) {
		n.realID = child.id
	}); err != nil {
		return err
	}

	child.nlink++
	fs.touchInode(child, "c")
	return fs.saveInode(child)
}

// Chmod updates the permission mask of the object at path.
func (fs *FileSystem) Chmod(path string, mode uint32) error {
	child, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	child.mask = extractMaskFromMode(mode)
	fs.touchInode(child, "ca")
	return fs.saveInode(child)
}

// Chown updates ownership of the object at path. A uid or gid of -1 leaves
// that value unchanged.
func (fs *FileSystem) Chown(path string, uid, gid int) error {
	child, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	if uid != -1 {
		child.uid = uint16(uid)
	}
	if gid != -1 {
		child.gid = uint16(gid)
	}
	fs.touchInode(child, "ca")
	return fs.saveInode(child)
}

// Truncate sets the length of the file at path.
func (fs *FileSystem) Truncate(path string, size int64) error {
	if size > MaxFileSize {
		return ErrFileTooBig
	}
	if err := fs.ensurePathExists(path); err != nil {
		return err
	}

	node, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	fs.touchInode(node, "cma")
	if err := fs.saveInode(node); err != nil {
		return err
	}

	f := fs.low.file(node.id)
	f.Open()
	terr := f.Truncate(size)
	f.Close()
	if terr != nil || f.Fail() || f.Bad() {
		return ErrInternalInconsistency
	}
	return nil
}

// Open returns a stream over the file at path.
func (fs *FileSystem) Open(path string) (*File, error) {
	if err := fs.ensurePathExists(path); err != nil {
		return nil, err
	}
	node, err := fs.inodeForPath(path)
	if err != nil {
		return nil, err
	}
	if node.itype == typeDirectory {
		return nil, ErrIsADirectory
	}

	f := fs.low.file(node.id)
	f.Open()
	if f.Fail() || f.Bad() {
		return nil, ErrNotSupported
	}
	return f, nil
}

// OpenFile returns a stream over the file at path after validating the
// textual open mode used by the tooling ("r", "w" or "rw"). The underlying
// stream always supports both directions; the mode is validated for parity
// with the mount surface.
func (fs *FileSystem) OpenFile(path, mode string) (*File, error) {
	if _, err := parseOpenMode(mode); err != nil {
		return nil, err
	}
	return fs.Open(path)
}

// ReadDir lists the names of a directory's children in child-array order.
// The '.' and '..' entries are not included; callers add those.
func (fs *FileSystem) ReadDir(path string) ([]string, error) {
	if err := fs.ensurePathExists(path); err != nil {
		return nil, err
	}
	node, err := fs.inodeForPath(path)
	if err != nil {
		return nil, err
	}
	if node.itype != typeDirectory {
		return nil, ErrNotADirectory
	}

	children := fs.low.childrenOf(node.id)
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.filename)
	}
	return names, nil
}

// Create creates a regular file.
func (fs *FileSystem) Create(path string, mode uint32) error {
	_, err := fs.performCreation(typeFileInfo, path, mode, func(n *inode) {})
	return err
}

// Utimens sets the access and modification times of the object at path.
func (fs *FileSystem) Utimens(path string, atime, mtime int64) error {
	if err := fs.ensurePathExists(path); err != nil {
		return err
	}
	node, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	node.atime = atime
	node.mtime = mtime
	return fs.saveInode(node)
}

// Touch stamps the subset of timestamps named by modes ('a', 'm', 'c') with
// the current time.
func (fs *FileSystem) Touch(path string, modes string) error {
	node, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	fs.touchInode(node, modes)
	return fs.saveInode(node)
}

// ensurePathIsValid rejects paths that are too long, contain NUL bytes or
// carry over-long components.
func (fs *FileSystem) ensurePathIsValid(path string) error {
	components := splitPath(path)
	switch err := verifyPath(path, components); err {
	case nil:
		return nil
	case errInvalidPath:
		return ErrPathNotValid
	case errInvalidFilename:
		return ErrFilenameTooLong
	default:
		return ErrInternalInconsistency
	}
}

// ensurePathExists resolves every component of path from the root.
func (fs *FileSystem) ensurePathExists(path string) error {
	if err := fs.ensurePathIsValid(path); err != nil {
		return err
	}
	node := fs.low.inodeByID(0)
	for _, c := range splitPath(path) {
		node = fs.low.childByName(node.id, c)
		if node.isInvalid() {
			return ErrFileNotFound
		}
	}
	return nil
}

// ensurePathIsAvailable requires the parent chain to exist and the leaf to
// be absent.
func (fs *FileSystem) ensurePathIsAvailable(path string) error {
	if err := fs.ensurePathIsValid(path); err != nil {
		return err
	}
	components := splitPath(path)
	node := fs.low.inodeByID(0)
	for i := 0; i+1 < len(components); i++ {
		node = fs.low.childByName(node.id, components[i])
		if node.isInvalid() {
			return ErrFileNotFound
		}
	}
	if len(components) != 0 {
		node = fs.low.childByName(node.id, components[len(components)-1])
	}
	if node.isInvalid() {
		return nil
	}
	return ErrFileExists
}

// ensurePathRenamability allows renaming over an existing destination unless
// the destination parent carries the sticky bit and neither the target nor
// the parent is owned by uid.
func (fs *FileSystem) ensurePathRenamability(path string, uid uint16) error {
	err := fs.ensurePathIsAvailable(path)
	if err == nil {
		return nil
	}
	if err != ErrFileExists {
		return err
	}

	child, err := fs.inodeForPath(path)
	if err != nil {
		return err
	}
	parent, err := fs.parentForPath(path)
	if err != nil {
		return err
	}
	if parent.mask&unix.S_ISVTX != 0 && child.uid != uid && parent.uid != uid {
		return ErrAccessDenied
	}
	return nil
}

// inodeForPathLimit resolves the first limit components of path. A limit of
// zero or below counts back from the end, so -1 resolves the parent.
func (fs *FileSystem) inodeForPathLimit(path string, limit int) (*inode, error) {
	if err := fs.ensurePathIsValid(path); err != nil {
		return nil, err
	}
	components := splitPath(path)
	end := len(components)
	if limit <= 0 {
		end += limit
	} else {
		end = limit
	}

	node := fs.low.inodeByID(0)
	for i := 0; i < end; i++ {
		node = fs.low.childByName(node.id, components[i])
		if node.isInvalid() {
			return nil, ErrFileNotFound
		}
	}
	if node.isInvalid() {
		return nil, ErrFileNotFound
	}
	if node.itype == typeHardlink {
		node = node.resolve(fs.low)
	}
	return node, nil
}

func (fs *FileSystem) inodeForPath(path string) (*inode, error) {
	return fs.inodeForPathLimit(path, len(splitPath(path)))
}

func (fs *FileSystem) parentForPath(path string) (*inode, error) {
	return fs.inodeForPathLimit(path, -1)
}

// saveInode writes an already-assigned inode back to disk.
func (fs *FileSystem) saveInode(n *inode) error {
	if n.itype == typeInvalid || n.itype == typeUnset {
		return ErrInodeSaveInvalid
	}
	if err := fs.low.updateInode(n); err != nil {
		return ErrInodeSaveFailed
	}
	return nil
}

// saveNewInode writes a freshly assigned inode at pos.
func (fs *FileSystem) saveNewInode(pos uint32, n *inode) error {
	if n.itype == typeInvalid || n.itype == typeUnset {
		return ErrInodeSaveInvalid
	}
	if err := fs.low.writeInode(pos, n); err != nil {
		return ErrInodeSaveFailed
	}
	return nil
}

// extractMaskFromMode strips exactly one of the directory, symlink or
// regular-file type bits from mode. Other file-type bits (devices, FIFOs)
// deliberately stay inside the stored mask; GetAttr relies on that to report
// special files without a separate rdev type field.
func extractMaskFromMode(mode uint32) uint16 {
	switch {
	case mode&unix.S_IFMT == unix.S_IFDIR:
		return uint16(mode &^ unix.S_IFDIR)
	case mode&unix.S_IFMT == unix.S_IFLNK:
		return uint16(mode &^ unix.S_IFLNK)
	case mode&unix.S_IFMT == unix.S_IFREG:
		return uint16(mode &^ unix.S_IFREG)
	}
	return uint16(mode)
}

// assignNewInode reserves an id and allocates a block for a new inode. Every
// step is individually reversible: a failure after this call must unreserve
// the id, and a failure after the inode is written must free the block.
func (fs *FileSystem) assignNewInode(t inodeType) (uint32, *inode, error) {
	if t == typeInvalid || t == typeUnset {
		return 0, nil, ErrInodeSaveInvalid
	}

	pos := fs.low.firstFreeBlock()
	if pos == 0 {
		return 0, nil, ErrNoFreeSpace
	}

	id := fs.low.firstFreeInodeID()
	if id == 0 {
		return 0, nil, ErrInodeExhaustion
	}

	if pos < OffsetData {
		return 0, nil, ErrInodeSaveInvalid
	}
	if t != typeSegInfo && t != typeFreeList && fs.low.inodePosition(id) != 0 {
		return 0, nil, ErrInodeSaveInvalid
	}

	fs.low.reserveInodeID(id)
	return pos, newInode(id, "", t), nil
}

// touchInode stamps the timestamps selected by modes with the current time.
func (fs *FileSystem) touchInode(n *inode, modes string) {
	t := now()
	for _, m := range modes {
		switch m {
		case 'a':
			n.atime = t
		case 'm':
			n.mtime = t
		case 'c':
			n.ctime = t
		}
	}
}

// performCreation drives the shared create sequence: require the path to be
// available, reserve an id and a block, fill in the inode, write it, then
// link it into the parent. Failures unwind whatever progress was made.
func (fs *FileSystem) performCreation(t inodeType, path string, mode uint32, configure func(*inode)) (*inode, error) {
	if err := fs.ensurePathIsAvailable(path); err != nil {
		return nil, err
	}

	parent, err := fs.parentForPath(path)
	if err != nil {
		return nil, err
	}

	pos, child, err := fs.assignNewInode(t)
	if err != nil {
		return nil, err
	}

	child.mask = extractMaskFromMode(mode)
	stamp := now()
	child.ctime = stamp
	child.mtime = stamp
	child.atime = stamp
	child.uid = fs.uid
	child.gid = fs.gid
	if t == typeDirectory {
		child.parent = parent.id
	}
	configure(child)
	child.filename = clampName(basename(path))

	if err := fs.saveNewInode(pos, child); err != nil {
		fs.low.unreserveInodeID(child.id)
		return nil, err
	}

	if aerr := fs.low.addChild(parent.id, child.id); aerr != nil {
		// The inode is on disk but could not be linked; free the block and
		// clear its lookup slot before reporting.
		_ = fs.low.resetBlock(pos)
		_ = fs.low.setInodePosition(child.id, 0)
		switch aerr {
		case errNotADirectory:
			return nil, ErrNotADirectory
		case errMaximumChildren:
			return nil, ErrChildLimitReached
		default:
			return nil, ErrInternalInconsistency
		}
	}

	return child, nil
}
