package appfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func openTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := Open(createTestPackage(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestOpenRejectsGarbage(t *testing.T) {
	fs, err := Open("/nonexistent/package.afs")
	if fs != nil || !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("missing package: actual %v", err)
	}

	// A zero-filled file carries no magic tag.
	path := filepath.Join(t.TempDir(), "zeros.afs")
	require.NoError(t, os.WriteFile(path, make([]byte, OffsetData+BlockSize), 0o644))
	fs, err = Open(path)
	if fs != nil || !errors.Is(err, ErrPackageNotValid) {
		t.Errorf("zero file: actual %v", err)
	}
}

func TestPackageInfo(t *testing.T) {
	fs := openTestFS(t)

	info, err := fs.Info()
	require.NoError(t, err)
	if info.AppName != "test" || info.AppVersion != "0.0.1" {
		t.Errorf("metadata: actual %q %q", info.AppName, info.AppVersion)
	}
	if info.RootPosition != OffsetData {
		t.Errorf("root position: actual %d", info.RootPosition)
	}
	if info.FreeListPosition != 0 {
		t.Errorf("fresh package has a free list at %d", info.FreeListPosition)
	}
}

// Round-trip one file through create, write, read and stat.
func TestScenarioRoundTripOneFile(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/hello", 0o644))

	f, err := fs.Open("/hello")
	require.NoError(t, err)
	f.SeekP(0)
	n, err := f.Write([]byte("Hello, world!"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	f.Close()

	f, err = fs.Open("/hello")
	require.NoError(t, err)
	out := make([]byte, 13)
	n, err = f.Read(out)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	f.Close()
	if string(out) != "Hello, world!" {
		t.Errorf("content: actual %q", out)
	}

	st, err := fs.GetAttr("/hello")
	require.NoError(t, err)
	if st.Size != 13 {
		t.Errorf("size: actual %d instead of expected 13", st.Size)
	}
	if st.Blocks != 1 {
		t.Errorf("blocks: actual %d instead of expected 1", st.Blocks)
	}
	if st.Mode != unix.S_IFREG|0o644 {
		t.Errorf("mode: actual %o", st.Mode)
	}
}

// Directory listing order is insertion order with holes squeezed out.
func TestScenarioDirectoryListingOrder(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Create("/d/a", 0o644))
	require.NoError(t, fs.Create("/d/b", 0o644))
	require.NoError(t, fs.Create("/d/c", 0o644))
	require.NoError(t, fs.Unlink("/d/b"))
	require.NoError(t, fs.Create("/d/d", 0o644))

	names, err := fs.ReadDir("/d")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a", "c", "d"}, names); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestReadDirLengthMatchesChildrenCount(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	for _, n := range []string{"x", "y", "z"} {
		require.NoError(t, fs.Create("/d/"+n, 0o644))
	}
	names, err := fs.ReadDir("/d")
	require.NoError(t, err)

	node, err := fs.inodeForPath("/d")
	require.NoError(t, err)
	if len(names) != int(node.childrenCount) {
		t.Errorf("listing length %d != children count %d", len(names), node.childrenCount)
	}
}

// Hardlink unlink semantics.
func TestScenarioHardlinkUnlink(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/f", 0o644))
	f, err := fs.Open("/f")
	require.NoError(t, err)
	_, err = f.Write([]byte("shared content"))
	require.NoError(t, err)
	f.Close()

	require.NoError(t, fs.Link("/g", "/f"))

	stf, err := fs.GetAttr("/f")
	require.NoError(t, err)
	stg, err := fs.GetAttr("/g")
	require.NoError(t, err)
	if stf.Nlink != 2 || stg.Nlink != 2 {
		t.Fatalf("nlink: /f %d /g %d instead of 2", stf.Nlink, stg.Nlink)
	}
	if stf.Ino != stg.Ino || stf.Size != stg.Size || stf.Mode != stg.Mode {
		t.Error("stat records differ between the file and its hardlink")
	}

	// Reading through both names yields identical contents.
	for _, path := range []string{"/f", "/g"} {
		f, err := fs.Open(path)
		require.NoError(t, err)
		out := make([]byte, 14)
		_, err = f.Read(out)
		require.NoError(t, err)
		f.Close()
		if string(out) != "shared content" {
			t.Errorf("read via %s: actual %q", path, out)
		}
	}

	// Dropping the link leaves the file intact.
	require.NoError(t, fs.Unlink("/g"))
	if _, err := fs.GetAttr("/g"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("stat /g after unlink: actual %v", err)
	}
	stf, err = fs.GetAttr("/f")
	require.NoError(t, err)
	if stf.Nlink != 1 {
		t.Errorf("nlink after unlinking the alias: actual %d", stf.Nlink)
	}

	// Dropping the last name destroys the inode and frees its blocks.
	fpos := fs.low.inodePosition(uint16(stf.Ino))
	require.NoError(t, fs.Unlink("/f"))
	if _, err := fs.GetAttr("/f"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("stat /f after unlink: actual %v", err)
	}
	if !fs.low.isBlockFree(fpos) && fs.low.rawInodeAt(fpos).itype != typeFreeList {
		t.Error("inode block not released to the free list")
	}
	if got := fs.low.inodePosition(uint16(stf.Ino)); got != 0 {
		t.Errorf("lookup slot not cleared: %d", got)
	}
}

// Rename across parents.
func TestScenarioRenameAcrossParents(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/a", 0o755))
	require.NoError(t, fs.Mkdir("/b", 0o755))
	require.NoError(t, fs.Create("/a/x", 0o644))

	require.NoError(t, fs.Rename("/a/x", "/b/y"))

	namesA, err := fs.ReadDir("/a")
	require.NoError(t, err)
	if len(namesA) != 0 {
		t.Errorf("/a still lists %v", namesA)
	}
	namesB, err := fs.ReadDir("/b")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"y"}, namesB); diff != "" {
		t.Errorf("/b listing mismatch (-want +got):\n%s", diff)
	}
}

func TestRenameReplacesDestination(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/src", 0o644))
	require.NoError(t, fs.Create("/dst", 0o644))
	require.NoError(t, fs.Rename("/src", "/dst"))

	names, err := fs.ReadDir("/")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"dst"}, names); diff != "" {
		t.Errorf("root listing mismatch (-want +got):\n%s", diff)
	}
}

func TestRenameStickyBitDenied(t *testing.T) {
	fs := openTestFS(t)

	fs.SetUID(5)
	fs.SetGID(5)
	require.NoError(t, fs.Mkdir("/shared", 0o777))
	require.NoError(t, fs.Chmod("/shared", 0o1777))
	require.NoError(t, fs.Create("/shared/victim", 0o644))
	require.NoError(t, fs.Create("/attack", 0o644))

	// Another user may not replace a file in a sticky directory they do not
	// own when the file is not theirs either.
	fs.SetUID(7)
	err := fs.Rename("/attack", "/shared/victim")
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("sticky rename: actual %v instead of ErrAccessDenied", err)
	}

	// The owner may.
	fs.SetUID(5)
	require.NoError(t, fs.Rename("/attack", "/shared/victim"))
}

// Filename and path length rejection.
func TestScenarioNameLengthRejection(t *testing.T) {
	fs := openTestFS(t)

	leaf := strings.Repeat("x", 300)
	if err := fs.Create("/"+leaf, 0o644); !errors.Is(err, ErrFilenameTooLong) {
		t.Errorf("long leaf: actual %v instead of ErrFilenameTooLong", err)
	}

	longPath := "/" + strings.Repeat("a/", BlockSize/2) + "end"
	if err := fs.Create(longPath, 0o644); !errors.Is(err, ErrPathNotValid) {
		t.Errorf("long path: actual %v instead of ErrPathNotValid", err)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/target", 0o644))
	require.NoError(t, fs.Symlink("/link", "/target"))

	got, err := fs.Readlink("/link")
	require.NoError(t, err)
	if got != "/target" {
		t.Errorf("readlink: actual %q", got)
	}

	st, err := fs.GetAttr("/link")
	require.NoError(t, err)
	if st.Mode&unix.S_IFLNK != unix.S_IFLNK {
		t.Errorf("mode: actual %o", st.Mode)
	}

	if _, err := fs.Readlink("/target"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("readlink on a file: actual %v", err)
	}
}

func TestMknod(t *testing.T) {
	fs := openTestFS(t)

	devid := unix.Mkdev(4, 1)
	require.NoError(t, fs.Mknod("/tty", 0o620|unix.S_IFCHR, devid))

	st, err := fs.GetAttr("/tty")
	require.NoError(t, err)
	if st.Rdev != 4 {
		t.Errorf("rdev: actual %d instead of expected 4", st.Rdev)
	}
	if st.Dev != 1 {
		t.Errorf("dev: actual %d instead of expected 1", st.Dev)
	}
}

func TestUnlinkDevice(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mknod("/dev0", 0o600|unix.S_IFBLK, unix.Mkdev(8, 0)))
	require.NoError(t, fs.Unlink("/dev0"))
	if _, err := fs.GetAttr("/dev0"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("stat removed device: actual %v", err)
	}
}

func TestMkdirRmdir(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Create("/d/f", 0o644))

	if err := fs.Rmdir("/d"); !errors.Is(err, ErrDirectoryNotEmpty) {
		t.Errorf("rmdir non-empty: actual %v", err)
	}
	if err := fs.Rmdir("/d/f"); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("rmdir on file: actual %v", err)
	}
	if err := fs.Unlink("/d"); !errors.Is(err, ErrIsADirectory) {
		t.Errorf("unlink on directory: actual %v", err)
	}

	require.NoError(t, fs.Unlink("/d/f"))
	require.NoError(t, fs.Rmdir("/d"))
	if _, err := fs.GetAttr("/d"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("stat removed directory: actual %v", err)
	}
}

func TestCreateCollision(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/f", 0o644))
	if err := fs.Create("/f", 0o644); !errors.Is(err, ErrFileExists) {
		t.Errorf("duplicate create: actual %v", err)
	}
	if err := fs.Mkdir("/f", 0o755); !errors.Is(err, ErrFileExists) {
		t.Errorf("mkdir over file: actual %v", err)
	}
	if err := fs.Create("/missing/f", 0o644); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("create under missing parent: actual %v", err)
	}
}

func TestChmodChown(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/f", 0o644))
	require.NoError(t, fs.Chmod("/f", 0o600))

	st, err := fs.GetAttr("/f")
	require.NoError(t, err)
	if st.Mode != unix.S_IFREG|0o600 {
		t.Errorf("mode after chmod: actual %o", st.Mode)
	}

	require.NoError(t, fs.Chown("/f", 123, 456))
	st, err = fs.GetAttr("/f")
	require.NoError(t, err)
	if st.UID != 123 || st.GID != 456 {
		t.Errorf("ownership: actual %d:%d", st.UID, st.GID)
	}

	// -1 leaves the value untouched.
	require.NoError(t, fs.Chown("/f", -1, 789))
	st, err = fs.GetAttr("/f")
	require.NoError(t, err)
	if st.UID != 123 || st.GID != 789 {
		t.Errorf("ownership after partial chown: actual %d:%d", st.UID, st.GID)
	}
}

func TestUtimens(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/f", 0o644))
	require.NoError(t, fs.Utimens("/f", 1111111111, 2222222222))

	st, err := fs.GetAttr("/f")
	require.NoError(t, err)
	if st.Atime != 1111111111 || st.Mtime != 2222222222 {
		t.Errorf("times: actual %d %d", st.Atime, st.Mtime)
	}
}

func TestTruncatePath(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Create("/f", 0o644))
	require.NoError(t, fs.Truncate("/f", 5000))

	st, err := fs.GetAttr("/f")
	require.NoError(t, err)
	if st.Size != 5000 || st.Blocks != 2 {
		t.Errorf("after truncate: size %d blocks %d", st.Size, st.Blocks)
	}

	if err := fs.Truncate("/f", MaxFileSize+1); !errors.Is(err, ErrFileTooBig) {
		t.Errorf("oversized truncate: actual %v", err)
	}
	if err := fs.Truncate("/missing", 10); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("truncate missing: actual %v", err)
	}
}

func TestOpenFileModes(t *testing.T) {
	fs := openTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	if _, err := fs.OpenFile("/f", "r"); err != nil {
		t.Errorf("open r: %v", err)
	}
	if _, err := fs.OpenFile("/f", "rw"); err != nil {
		t.Errorf("open rw: %v", err)
	}
	if _, err := fs.OpenFile("/f", "x"); !errors.Is(err, ErrInvalidOpenMode) {
		t.Errorf("open x: actual %v", err)
	}
}

func TestDotAndDotDotResolution(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Create("/d/x", 0o644))

	id, err := fs.low.resolvePathname("/d/../d/./x")
	require.NoError(t, err)
	node := fs.low.inodeByID(id)
	if node.filename != "x" {
		t.Errorf("resolved %q instead of x", node.filename)
	}
}

func TestNestedDotDotResolution(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/a", 0o755))
	require.NoError(t, fs.Mkdir("/a/b", 0o755))
	require.NoError(t, fs.Create("/a/side", 0o644))

	id, err := fs.low.resolvePathname("/a/b/../side")
	require.NoError(t, err)
	if got := fs.low.inodeByID(id).filename; got != "side" {
		t.Errorf("resolved %q instead of side", got)
	}
}

func TestHardlinkToDirectoryRefused(t *testing.T) {
	fs := openTestFS(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	if err := fs.Link("/l", "/d"); !errors.Is(err, ErrIsADirectory) {
		t.Errorf("link to directory: actual %v", err)
	}

	require.NoError(t, fs.Symlink("/s", "/d"))
	if err := fs.Link("/l2", "/s"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("link to symlink: actual %v", err)
	}
}
