package appfs

import "encoding/binary"

// inodeType is the on-disk block type tag. The values are stored inside
// packages; do not renumber them.
type inodeType uint16

const (
	typeFreeBlock inodeType = 0
	typeFileInfo  inodeType = 1
	typeSegInfo   inodeType = 2
	typeDirectory inodeType = 3
	typeSymlink   inodeType = 4
	typeHardlink  inodeType = 5
	typeTemporary inodeType = 6 // reserved
	typeFreeList  inodeType = 7
	typeFSInfo    inodeType = 8
	typeInvalid   inodeType = 9
	typeDevice    inodeType = 10
	typeData      inodeType = 254
	typeUnset     inodeType = 255
)

func (t inodeType) String() string {
	switch t {
	case typeFreeBlock:
		return "free-block"
	case typeFileInfo:
		return "file"
	case typeSegInfo:
		return "segment-info"
	case typeDirectory:
		return "directory"
	case typeSymlink:
		return "symlink"
	case typeHardlink:
		return "hardlink"
	case typeTemporary:
		return "temporary"
	case typeFreeList:
		return "free-list"
	case typeFSInfo:
		return "fs-info"
	case typeDevice:
		return "device"
	case typeData:
		return "data"
	case typeUnset:
		return "unset"
	}
	return "invalid"
}

// inode is the decoded form of a single block. Which fields are meaningful
// depends on itype; operations that apply only to a subset of variants check
// the tag and refuse the rest.
type inode struct {
	id       uint16
	itype    inodeType
	filename string
	uid      uint16
	gid      uint16
	mask     uint16
	atime    int64
	mtime    int64
	ctime    int64

	// directory
	parent        uint16
	childrenCount uint16
	children      []uint16

	// file / symlink / device
	dev      uint16
	rdev     uint16
	nlink    uint16
	blocks   uint16
	dataLen  uint32
	infoNext uint32

	// free-list
	freeListNext uint32

	// hardlink target; on a resolved inode this carries the id of the
	// hardlink the lookup went through. realFilename is in-memory only and
	// never written to disk.
	realID       uint16
	realFilename string

	// fs-info
	magic       [10]byte
	verMajor    uint16
	verMinor    uint16
	verRevision uint16
	appName     string
	appVersion  string
	appDesc     string
	appAuthor   string
	posRoot     uint32
	posFreeList uint32
}

// newInode returns an inode with the identity fields set and a link count of
// one (the inode's own lookup slot).
func newInode(id uint16, filename string, t inodeType) *inode {
	n := &inode{
		id:       id,
		itype:    t,
		filename: clampName(filename),
		nlink:    1,
		magic:    fsMagic,
	}
	if t == typeDirectory {
		n.children = make([]uint16, DirectoryChildrenMax)
	}
	return n
}

func invalidInode() *inode {
	return &inode{itype: typeInvalid}
}

func (n *inode) isInvalid() bool {
	return n == nil || n.itype == typeInvalid
}

// verify rejects decoded blocks whose content signals a torn write: a
// directory or file block with an empty filename can only be the root
// directory.
func (n *inode) verify() bool {
	if n.filename == "" && (n.itype == typeDirectory || n.itype == typeFileInfo) && n.id != 0 {
		return false
	}
	return true
}

// clampName bounds a filename to the 255 bytes that fit in the on-disk field
// with its terminating NUL.
func clampName(s string) string {
	if len(s) > 255 {
		return s[:255]
	}
	return s
}

func putPaddedString(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// toBytes encodes the variant-specific header of the inode. The result is
// not padded to the block size; writeInode zero-fills the remainder.
func (n *inode) toBytes() []byte {
	b := make([]byte, BlockSize)
	binary.LittleEndian.PutUint16(b[0:2], n.id)
	binary.LittleEndian.PutUint16(b[2:4], uint16(n.itype))

	switch n.itype {
	case typeSegInfo:
		binary.LittleEndian.PutUint32(b[4:8], n.infoNext)
		return b[:headerSizeSegInfo]
	case typeFreeList:
		binary.LittleEndian.PutUint32(b[4:8], n.freeListNext)
		return b[:headerSizeFreeList]
	case typeFSInfo:
		copy(b[4:14], n.magic[:])
		binary.LittleEndian.PutUint16(b[14:16], n.verMajor)
		binary.LittleEndian.PutUint16(b[16:18], n.verMinor)
		binary.LittleEndian.PutUint16(b[18:20], n.verRevision)
		putPaddedString(b[20:276], n.appName)
		putPaddedString(b[276:308], n.appVersion)
		putPaddedString(b[308:1332], n.appDesc)
		putPaddedString(b[1332:1588], n.appAuthor)
		binary.LittleEndian.PutUint32(b[1588:1592], n.posRoot)
		binary.LittleEndian.PutUint32(b[1592:1596], n.posFreeList)
		return b[:1596]
	}

	// A resolved hardlink target keeps its own on-disk filename, not the
	// name the lookup went through.
	if (n.itype == typeFileInfo || n.itype == typeDevice) && n.realID != 0 {
		putPaddedString(b[4:260], n.realFilename)
	} else {
		putPaddedString(b[4:260], n.filename)
	}

	if n.itype != typeHardlink {
		binary.LittleEndian.PutUint16(b[260:262], n.uid)
		binary.LittleEndian.PutUint16(b[262:264], n.gid)
		binary.LittleEndian.PutUint16(b[264:266], n.mask)
		binary.LittleEndian.PutUint64(b[266:274], uint64(n.atime))
		binary.LittleEndian.PutUint64(b[274:282], uint64(n.mtime))
		binary.LittleEndian.PutUint64(b[282:290], uint64(n.ctime))
	}

	switch n.itype {
	case typeFileInfo, typeSymlink, typeDevice:
		binary.LittleEndian.PutUint16(b[290:292], n.dev)
		binary.LittleEndian.PutUint16(b[292:294], n.rdev)
		binary.LittleEndian.PutUint16(b[294:296], n.nlink)
		binary.LittleEndian.PutUint16(b[296:298], n.blocks)
		binary.LittleEndian.PutUint32(b[298:302], n.dataLen)
		binary.LittleEndian.PutUint32(b[302:306], n.infoNext)
		return b[:306]
	case typeDirectory:
		binary.LittleEndian.PutUint16(b[290:292], n.parent)
		binary.LittleEndian.PutUint16(b[292:294], n.childrenCount)
		for i := 0; i < DirectoryChildrenMax; i++ {
			var child uint16
			if i < len(n.children) {
				child = n.children[i]
			}
			binary.LittleEndian.PutUint16(b[offChildren+i*2:offChildren+i*2+2], child)
		}
		return b[:BlockSize]
	case typeHardlink:
		binary.LittleEndian.PutUint16(b[260:262], n.realID)
		return b[:262]
	}

	return b[:4]
}

// inodeFromBytes decodes a block. The buffer must hold the full variant
// header; pass a whole block where the variant is not known in advance.
func inodeFromBytes(b []byte) *inode {
	n := &inode{
		id:    binary.LittleEndian.Uint16(b[0:2]),
		itype: inodeType(binary.LittleEndian.Uint16(b[2:4])),
	}

	switch n.itype {
	case typeSegInfo:
		n.infoNext = binary.LittleEndian.Uint32(b[4:8])
		return n
	case typeFreeList:
		n.freeListNext = binary.LittleEndian.Uint32(b[4:8])
		return n
	case typeFSInfo:
		copy(n.magic[:], b[4:14])
		n.verMajor = binary.LittleEndian.Uint16(b[14:16])
		n.verMinor = binary.LittleEndian.Uint16(b[16:18])
		n.verRevision = binary.LittleEndian.Uint16(b[18:20])
		n.appName = cString(b[20:276])
		n.appVersion = cString(b[276:308])
		n.appDesc = cString(b[308:1332])
		n.appAuthor = cString(b[1332:1588])
		n.posRoot = binary.LittleEndian.Uint32(b[1588:1592])
		n.posFreeList = binary.LittleEndian.Uint32(b[1592:1596])
		return n
	}

	n.filename = cString(b[4:260])
	if n.itype != typeHardlink {
		n.uid = binary.LittleEndian.Uint16(b[260:262])
		n.gid = binary.LittleEndian.Uint16(b[262:264])
		n.mask = binary.LittleEndian.Uint16(b[264:266])
		n.atime = int64(binary.LittleEndian.Uint64(b[266:274]))
		n.mtime = int64(binary.LittleEndian.Uint64(b[274:282]))
		n.ctime = int64(binary.LittleEndian.Uint64(b[282:290]))
	}

	switch n.itype {
	case typeFileInfo, typeSymlink, typeDevice:
		n.dev = binary.LittleEndian.Uint16(b[290:292])
		n.rdev = binary.LittleEndian.Uint16(b[292:294])
		n.nlink = binary.LittleEndian.Uint16(b[294:296])
		n.blocks = binary.LittleEndian.Uint16(b[296:298])
		n.dataLen = binary.LittleEndian.Uint32(b[298:302])
		n.infoNext = binary.LittleEndian.Uint32(b[302:306])
	case typeDirectory:
		n.parent = binary.LittleEndian.Uint16(b[290:292])
		n.childrenCount = binary.LittleEndian.Uint16(b[292:294])
		n.children = make([]uint16, DirectoryChildrenMax)
		for i := 0; i < DirectoryChildrenMax; i++ {
			n.children[i] = binary.LittleEndian.Uint16(b[offChildren+i*2 : offChildren+i*2+2])
		}
	case typeHardlink:
		n.realID = binary.LittleEndian.Uint16(b[260:262])
	}

	return n
}

// resolve follows hardlink indirection. Resolving a hardlink yields the real
// inode carrying the hardlink's filename and id reference; resolving a
// file or device inode that was reached through a hardlink recovers the raw
// hardlink block.
func (n *inode) resolve(l *lowlevel) *inode {
	switch {
	case n.itype == typeHardlink && n.realID != 0:
		logger.Debugf("resolving hardlink %d to %d", n.id, n.realID)
		target := l.inodeByID(n.realID)
		target.realID = n.id
		target.realFilename = target.filename
		target.filename = n.filename
		return target
	case (n.itype == typeFileInfo || n.itype == typeDevice) && n.realID != 0:
		logger.Debugf("resolving inode %d back to hardlink %d", n.id, n.realID)
		raw := l.rawInodeByID(n.realID)
		raw.realID = n.id
		raw.realFilename = n.filename
		return raw
	}
	return n
}
