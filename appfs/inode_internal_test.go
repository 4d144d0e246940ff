package appfs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		node *inode
	}{
		{
			name: "file",
			node: func() *inode {
				n := newInode(4, "hello.txt", typeFileInfo)
				n.uid = 1000
				n.gid = 1000
				n.mask = 0o644
				n.atime = 1400000000
				n.mtime = 1400000001
				n.ctime = 1400000002
				n.nlink = 2
				n.blocks = 3
				n.dataLen = 9000
				n.infoNext = 0
				return n
			}(),
		},
		{
			name: "symlink",
			node: func() *inode {
				n := newInode(9, "link", typeSymlink)
				n.mask = 0o755
				n.dataLen = 12
				n.blocks = 1
				return n
			}(),
		},
		{
			name: "device",
			node: func() *inode {
				n := newInode(11, "tty0", typeDevice)
				n.dev = 4
				n.rdev = 5
				n.mask = 0o620
				return n
			}(),
		},
		{
			name: "directory",
			node: func() *inode {
				n := newInode(7, "etc", typeDirectory)
				n.mask = 0o755
				n.parent = 0
				n.children[0] = 8
				n.children[3] = 12
				n.childrenCount = 2
				return n
			}(),
		},
		{
			name: "hardlink",
			node: func() *inode {
				n := newInode(14, "alias", typeHardlink)
				n.realID = 4
				return n
			}(),
		},
		{
			name: "segment info",
			node: func() *inode {
				n := newInode(0, "", typeSegInfo)
				n.infoNext = 1234 * BlockSize
				return n
			}(),
		},
		{
			name: "free list",
			node: func() *inode {
				n := newInode(0, "", typeFreeList)
				n.freeListNext = 900 * BlockSize
				return n
			}(),
		},
		{
			name: "fs info",
			node: func() *inode {
				n := newInode(0, "", typeFSInfo)
				n.verMajor = versionMajor
				n.verMinor = versionMinor
				n.verRevision = versionRevision
				n.appName = "demo"
				n.appVersion = "1.0"
				n.appDesc = "a demonstration application"
				n.appAuthor = "nobody"
				n.posRoot = OffsetData
				n.posFreeList = 0
				return n
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, BlockSize)
			copy(b, tt.node.toBytes())
			got := inodeFromBytes(b)

			// The decoder only recovers what is stored for the variant, so
			// compare through a second encode rather than field-by-field.
			if diff := cmp.Diff(tt.node.toBytes(), got.toBytes()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInodeRoundTripFields(t *testing.T) {
	n := newInode(4, "hello.txt", typeFileInfo)
	n.uid = 12
	n.gid = 34
	n.mask = 0o640
	n.atime = 1500000000
	n.mtime = 1500000100
	n.ctime = 1500000200
	n.nlink = 1
	n.blocks = 2
	n.dataLen = 5000
	n.infoNext = 77 * BlockSize

	b := make([]byte, BlockSize)
	copy(b, n.toBytes())
	got := inodeFromBytes(b)

	if got.id != n.id || got.itype != n.itype || got.filename != n.filename {
		t.Errorf("identity fields mismatched: got %d %v %q", got.id, got.itype, got.filename)
	}
	if got.uid != n.uid || got.gid != n.gid || got.mask != n.mask {
		t.Errorf("ownership fields mismatched: got %d %d %o", got.uid, got.gid, got.mask)
	}
	if got.atime != n.atime || got.mtime != n.mtime || got.ctime != n.ctime {
		t.Errorf("timestamps mismatched: got %d %d %d", got.atime, got.mtime, got.ctime)
	}
	if got.dataLen != n.dataLen || got.blocks != n.blocks || got.infoNext != n.infoNext {
		t.Errorf("data fields mismatched: got %d %d %d", got.dataLen, got.blocks, got.infoNext)
	}
}

func TestInodeVerify(t *testing.T) {
	tests := []struct {
		name  string
		node  *inode
		valid bool
	}{
		{"named file", newInode(3, "a", typeFileInfo), true},
		{"unnamed file", newInode(3, "", typeFileInfo), false},
		{"unnamed directory", newInode(3, "", typeDirectory), false},
		{"root directory", newInode(0, "", typeDirectory), true},
		{"unnamed symlink", newInode(3, "", typeSymlink), true},
		{"segment info", newInode(0, "", typeSegInfo), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.verify(); got != tt.valid {
				t.Errorf("verify(): actual %t instead of expected %t", got, tt.valid)
			}
		})
	}
}

func TestInodeDecodeTornWrite(t *testing.T) {
	// A directory block whose filename was never written reads back as the
	// invalid sentinel from the engine, not as partial data.
	n := newInode(5, "x", typeDirectory)
	b := make([]byte, BlockSize)
	copy(b, n.toBytes())
	putPaddedString(b[4:260], "")
	decoded := inodeFromBytes(b)
	if decoded.verify() {
		t.Fatal("expected verification to fail for a torn directory block")
	}
}

func TestClampName(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if got := clampName(string(long)); len(got) != 255 {
		t.Errorf("clampName length: actual %d instead of expected 255", len(got))
	}
	if got := clampName("short"); got != "short" {
		t.Errorf("clampName(short): actual %q", got)
	}
}
