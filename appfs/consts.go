package appfs

// On-disk layout of an AppFS package. These values are part of the wire
// format; changing any of them breaks the ability to read existing packages.
const (
	// BlockSize is the size of every file and directory block.
	BlockSize = 4096

	// OffsetBootstrap is where the bootstrap region begins.
	OffsetBootstrap = 0
	// LengthBootstrap is the size of the bootstrap region.
	LengthBootstrap = 3 * 1024 * 1024
	// OffsetLookup is where the inode lookup table begins.
	OffsetLookup = OffsetBootstrap + LengthBootstrap
	// LengthLookup is the size of the inode lookup table: 65536 slots of
	// 4-byte little-endian block offsets.
	LengthLookup = 256 * 1024
	// OffsetFSInfo is where the filesystem information block begins.
	OffsetFSInfo = OffsetLookup + LengthLookup
	// LengthFSInfo is the size reserved for the filesystem information block.
	LengthFSInfo = BlockSize
	// OffsetData is where the data region begins. All inode and data blocks
	// live at or after this offset.
	OffsetData = OffsetFSInfo + LengthFSInfo

	// DirectoryChildrenMax is the number of children a single directory
	// block can hold.
	DirectoryChildrenMax = 1901

	// MaxFileSize is the largest file the 32-bit segment addressing can
	// represent: the integer limit less the space in front of the data
	// region and a further 10 MiB of headroom.
	MaxFileSize = 0xFFFFFFFF - OffsetData - 10*1024*1024
)

// Header sizes for each block variant. The segment pointer array of a
// file-info block starts at headerSizeFile; the arrays of segment-info and
// free-list blocks start at their 8-byte headers.
const (
	headerSizeFile     = 308
	headerSizeSegInfo  = 8
	headerSizeFreeList = 8
	headerSizeFSInfo   = 1614
	headerSizeDir      = 294
)

// Field offsets used for direct in-place header writes.
const (
	offType          = 2
	offChildrenCount = 292
	offChildren      = 294
	offFileBlocks    = 296
	offFileLength    = 298
	offFileInfoNext  = 302
	offSegInfoNext   = 4
	offFreeListNext  = 4
)

// Segment pointer capacity of the two block variants that carry them.
const (
	segmentsPerFileBlock = (BlockSize - headerSizeFile) / 4
	segmentsPerInfoBlock = (BlockSize - headerSizeSegInfo) / 4
)

// fsMagic occupies the first ten bytes of the filesystem information block.
var fsMagic = [10]byte{'A', 'p', 'p', 'F', 'S'}

// Library version recorded in freshly created packages.
const (
	versionMajor    = 0
	versionMinor    = 1
	versionRevision = 0
)
