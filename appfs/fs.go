package appfs

import "time"

// lowlevel owns the block stream and the free list and performs every
// structural operation on the package: inode lookup, directory child arrays,
// segment chains, truncation and path resolution. It assumes exactly one
// logical caller operates on the package at a time; only the block stream
// itself is safe for concurrent use.
type lowlevel struct {
	fd       *BlockStream
	freelist *freeList

	// reserved holds inode ids handed out by firstFreeInodeID that have not
	// been written to disk yet, so an id cannot be assigned twice within one
	// creation sequence. Cleared per-id by each successful writeInode.
	reserved map[uint16]bool
}

func newLowlevel(fd *BlockStream) *lowlevel {
	l := &lowlevel{fd: fd, reserved: make(map[uint16]bool)}
	l.freelist = newFreeList(l, fd)
	return l
}

func (l *lowlevel) close() error {
	return l.fd.Close()
}

func ceilBlocks(n uint32) uint32 {
	return (n + BlockSize - 1) / BlockSize
}

func now() int64 {
	return time.Now().Unix()
}

// checkInodePositionIsValid rejects positions outside the data region or not
// aligned to the block size.
func checkInodePositionIsValid(pos uint32) error {
	if pos < OffsetData || (pos-OffsetData)%BlockSize != 0 {
		return errInvalidPosition
	}
	return nil
}

// rawInodeAt decodes the block at pos without hardlink resolution. Decoded
// content that fails verification comes back as the invalid sentinel, never
// as partial data.
func (l *lowlevel) rawInodeAt(pos uint32) *inode {
	b := make([]byte, BlockSize)
	l.fd.SeekG(int64(pos))
	l.fd.Read(b)
	n := inodeFromBytes(b)
	if !n.verify() {
		return invalidInode()
	}
	return n
}

// inodeAt decodes the block at pos, transparently resolving hardlinks.
func (l *lowlevel) inodeAt(pos uint32) *inode {
	n := l.rawInodeAt(pos)
	if n.itype == typeHardlink {
		n = n.resolve(l)
	}
	return n
}

// inodePosition reads the lookup table slot for id. Zero means unassigned.
func (l *lowlevel) inodePosition(id uint16) uint32 {
	l.fd.Clear()
	return readUint32At(l.fd, OffsetLookup+int64(id)*4)
}

// setInodePosition writes the lookup table slot for id.
func (l *lowlevel) setInodePosition(id uint16, pos uint32) error {
	if pos != 0 {
		if err := checkInodePositionIsValid(pos); err != nil {
			return err
		}
	}
	writeUint32At(l.fd, OffsetLookup+int64(id)*4, pos)
	return nil
}

// inodeByID retrieves the inode with the given id, resolving hardlinks.
func (l *lowlevel) inodeByID(id uint16) *inode {
	pos := l.inodePosition(id)
	if pos == 0 || pos < OffsetFSInfo {
		return invalidInode()
	}
	return l.inodeAt(pos)
}

// rawInodeByID retrieves the inode with the given id without hardlink
// resolution.
func (l *lowlevel) rawInodeByID(id uint16) *inode {
	pos := l.inodePosition(id)
	if pos == 0 || pos < OffsetFSInfo {
		return invalidInode()
	}
	return l.rawInodeAt(pos)
}

// firstFreeInodeID scans the lookup table for the first slot that is neither
// assigned on disk nor held in the reservation set. Zero means exhaustion;
// the root always occupies id 0.
func (l *lowlevel) firstFreeInodeID() uint16 {
	l.fd.Clear()
	for id := 1; id < 65536; id++ {
		if l.reserved[uint16(id)] {
			continue
		}
		if readUint32At(l.fd, OffsetLookup+int64(id)*4) == 0 {
			return uint16(id)
		}
	}
	return 0
}

func (l *lowlevel) reserveInodeID(id uint16) {
	l.reserved[id] = true
}

func (l *lowlevel) unreserveInodeID(id uint16) {
	delete(l.reserved, id)
}

// firstFreeBlock returns the position of a block that may be written to.
func (l *lowlevel) firstFreeBlock() uint32 {
	return l.freelist.allocateBlock()
}

// isBlockFree reports whether the block at pos is on the free list.
func (l *lowlevel) isBlockFree(pos uint32) bool {
	return l.freelist.isBlockFree(pos)
}

// writeInode writes a new inode at pos, zero-fills the remainder of the
// block and registers the inode in the lookup table. Segment-info and
// free-list blocks carry no id and skip both the assignment check and the
// table update.
func (l *lowlevel) writeInode(pos uint32, n *inode) error {
	if err := checkInodePositionIsValid(pos); err != nil {
		return err
	}
	if n.itype != typeSegInfo && n.itype != typeFreeList && l.inodePosition(n.id) != 0 {
		return errInodeAlreadyAssigned
	}
	if !n.verify() {
		return errInodeNotValid
	}

	switch n.itype {
	case typeFileInfo, typeSegInfo, typeSymlink, typeFreeList, typeDevice, typeHardlink, typeDirectory:
	default:
		return errInodeNotValid
	}

	block := make([]byte, BlockSize)
	copy(block, n.toBytes())
	l.fd.SeekP(int64(pos))
	l.fd.Write(block)
	if l.fd.Fail() || l.fd.Bad() {
		logger.Errorf("write failure on write of new inode %d", n.id)
	}

	switch n.itype {
	case typeFileInfo, typeSymlink, typeDirectory, typeDevice, typeHardlink:
		if err := l.setInodePosition(n.id, pos); err != nil {
			return err
		}
	}
	l.unreserveInodeID(n.id)
	return nil
}

// updateRawInode rewrites the header of an inode that has no lookup table
// entry, addressed by position. Only free-list blocks may be updated this
// way.
func (l *lowlevel) updateRawInode(n *inode, pos uint32) error {
	if err := checkInodePositionIsValid(pos); err != nil {
		return err
	}
	if n.itype != typeFreeList {
		return errInodeNotValid
	}
	if !n.verify() {
		return errInodeNotValid
	}
	l.fd.SeekP(int64(pos))
	l.fd.Write(n.toBytes())
	return nil
}

// updateInode rewrites the header of an already-assigned inode in place,
// preserving trailing block content such as segment pointers.
func (l *lowlevel) updateInode(n *inode) error {
	switch n.itype {
	case typeFileInfo, typeDirectory, typeSymlink, typeDevice, typeHardlink:
	default:
		return errInodeNotValid
	}

	logger.Debugf("updating inode %d", n.id)
	pos := l.inodePosition(n.id)
	if pos == 0 {
		return errInodeNotAssigned
	}
	if err := checkInodePositionIsValid(pos); err != nil {
		return err
	}
	if !n.verify() {
		return errInodeNotValid
	}

	l.fd.SeekP(int64(pos))
	l.fd.Write(n.toBytes())
	return l.setInodePosition(n.id, pos)
}

// updateTimes stamps the selected timestamps of an inode with the current
// time and saves it.
func (l *lowlevel) updateTimes(id uint16, atime, mtime, ctime bool) {
	n := l.inodeByID(id)
	if n.isInvalid() {
		return
	}
	t := now()
	if atime {
		n.atime = t
	}
	if mtime {
		n.mtime = t
	}
	if ctime {
		n.ctime = t
	}
	_ = l.updateInode(n)
}

// addChild links childID into the first empty slot of the parent directory's
// child array and bumps the child count and mtime/ctime.
func (l *lowlevel) addChild(parentID, childID uint16) error {
	if parentID == childID {
		return errGeneralFailure
	}
	pos := l.inodePosition(parentID)

	if inodeType(readUint16At(l.fd, int64(pos)+offType)) != typeDirectory {
		return errNotADirectory
	}

	slot := -1
	for i := 0; i < DirectoryChildrenMax; i++ {
		v := readUint16At(l.fd, int64(pos)+offChildren+int64(i)*2)
		if v == 0 {
			slot = i
			break
		}
	}
	if slot == -1 {
		return errMaximumChildren
	}

	writeUint16At(l.fd, int64(pos)+offChildren+int64(slot)*2, childID)

	count := readUint16At(l.fd, int64(pos)+offChildrenCount)
	writeUint16At(l.fd, int64(pos)+offChildrenCount, count+1)

	l.updateTimes(parentID, false, true, true)
	return nil
}

// removeChild takes childID out of the parent directory's child array and
// decrements the child count. The entries behind it slide down one slot, so
// the array stays compact and listing order remains insertion order.
func (l *lowlevel) removeChild(parentID, childID uint16) error {
	pos := l.inodePosition(parentID)

	if inodeType(readUint16At(l.fd, int64(pos)+offType)) != typeDirectory {
		return errNotADirectory
	}

	children := make([]uint16, DirectoryChildrenMax)
	slot := -1
	for i := 0; i < DirectoryChildrenMax; i++ {
		children[i] = readUint16At(l.fd, int64(pos)+offChildren+int64(i)*2)
		if children[i] == childID && childID != 0 && slot == -1 {
			slot = i
		}
	}
	if slot == -1 {
		return errInvalidFilename
	}

	copy(children[slot:], children[slot+1:])
	children[DirectoryChildrenMax-1] = 0
	for i := slot; i < DirectoryChildrenMax; i++ {
		writeUint16At(l.fd, int64(pos)+offChildren+int64(i)*2, children[i])
		if children[i] == 0 {
			break
		}
	}

	count := readUint16At(l.fd, int64(pos)+offChildrenCount)
	writeUint16At(l.fd, int64(pos)+offChildrenCount, count-1)

	l.updateTimes(parentID, false, true, true)
	return nil
}

// childrenOf returns the resolved children of a directory in child-array
// order, skipping empty slots.
func (l *lowlevel) childrenOf(parentID uint16) []*inode {
	var out []*inode
	node := l.inodeByID(parentID)
	if node.itype != typeDirectory {
		return out
	}

	seen := uint16(0)
	for i := 0; i < DirectoryChildrenMax && seen < node.childrenCount; i++ {
		cid := node.children[i]
		if cid == 0 {
			continue
		}
		seen++
		cnode := l.inodeByID(cid)
		switch cnode.itype {
		case typeFileInfo, typeDirectory, typeSymlink, typeDevice, typeHardlink:
			out = append(out, cnode)
		}
	}
	return out
}

// childByName returns the first child of the directory whose filename equals
// name byte-for-byte, or the invalid sentinel.
func (l *lowlevel) childByName(parentID uint16, name string) *inode {
	node := l.inodeByID(parentID)
	if node.itype != typeDirectory {
		return invalidInode()
	}

	seen := uint16(0)
	for i := 0; i < DirectoryChildrenMax && seen < node.childrenCount; i++ {
		cid := node.children[i]
		if cid == 0 {
			continue
		}
		seen++
		cnode := l.inodeByID(cid)
		switch cnode.itype {
		case typeFileInfo, typeDirectory, typeSymlink, typeDevice, typeHardlink:
			if cnode.filename == name {
				return cnode
			}
		}
	}
	return invalidInode()
}

// filenameIsUnique reports whether no child of the directory carries name.
func (l *lowlevel) filenameIsUnique(parentID uint16, name string) bool {
	for _, c := range l.childrenOf(parentID) {
		if c.filename == name {
			return false
		}
	}
	return true
}

// setFileLengthDirect writes the data length and block count header fields
// of the file inode at pos without touching any segment pointers.
func (l *lowlevel) setFileLengthDirect(pos, length uint32) error {
	l.fd.Clear()
	t := inodeType(readUint16At(l.fd, int64(pos)+offType))
	if t != typeFileInfo && t != typeSymlink {
		return errInvalidPosition
	}
	writeUint32At(l.fd, int64(pos)+offFileLength, length)
	writeUint16At(l.fd, int64(pos)+offFileBlocks, uint16(ceilBlocks(length)))
	return nil
}

// walkSegmentSlots visits the segment pointer slots of the file whose
// file-info block sits at bpos, in logical order: the slots inside the
// file-info block first, then each segment-info block of the chain. fn
// receives the slot index, the absolute position of the slot itself and the
// block position stored in it (zero for an unused slot); returning false
// stops the walk.
func (l *lowlevel) walkSegmentSlots(bpos uint32, fn func(index int, slotPos, blockPos uint32) bool) error {
	ipos := bpos
	hsize := headerSizeFile
	nextOff := int64(offFileInfoNext)
	idx := 0
	for ipos != 0 {
		for off := hsize; off < BlockSize; off += 4 {
			v := readUint32At(l.fd, int64(ipos)+int64(off))
			if !fn(idx, ipos+uint32(off), v) {
				return nil
			}
			idx++
		}
		next := readUint32At(l.fd, int64(ipos)+nextOff)
		if next != 0 {
			if l.rawInodeAt(next).itype != typeSegInfo {
				return errInodeNotValid
			}
		}
		ipos = next
		hsize = headerSizeSegInfo
		nextOff = offSegInfoNext
	}
	return nil
}

// resolvePositionInFile maps a logical byte offset inside the file to the
// absolute package offset backing it. Zero means the offset has no backing
// block.
func (l *lowlevel) resolvePositionInFile(id uint16, off uint32) uint32 {
	bpos := l.inodePosition(id)
	if bpos == 0 {
		return 0
	}

	target := int(off / BlockSize)
	rem := off % BlockSize

	var result uint32
	_ = l.walkSegmentSlots(bpos, func(index int, slotPos, blockPos uint32) bool {
		if blockPos == 0 {
			return false
		}
		if index == target {
			result = blockPos + rem
			return false
		}
		return true
	})
	return result
}

// resetBlock releases the block at pos back to the free list. Releasing a
// block that is already free, or a misaligned position, is refused. The
// block's contents are not erased.
func (l *lowlevel) resetBlock(pos uint32) error {
	if l.freelist.isBlockFree(pos) || pos%BlockSize != 0 {
		return errInodeNotValid
	}
	l.freelist.freeBlock(pos)
	return nil
}

// truncateFile grows or shrinks a file to length bytes, allocating or
// freeing data blocks and segment-info blocks as required. Truncating to the
// current length is a no-op.
func (l *lowlevel) truncateFile(id uint16, length uint32) error {
	bpos := l.inodePosition(id)
	node := l.inodeAt(bpos)
	if node.itype != typeFileInfo && node.itype != typeSymlink {
		return errInodeNotValid
	}

	switch {
	case node.dataLen == length:
		return nil

	case node.dataLen > length:
		keep := ceilBlocks(length)
		err := l.walkSegmentSlots(bpos, func(index int, slotPos, blockPos uint32) bool {
			if blockPos == 0 {
				return false
			}
			if uint32(index) >= keep {
				writeUint32At(l.fd, int64(slotPos), 0)
				_ = l.resetBlock(blockPos)
			}
			return true
		})
		if err != nil {
			return err
		}
		if err := l.setFileLengthDirect(bpos, length); err != nil {
			return err
		}
		return l.allocateInfoListBlocks(bpos, length)

	default:
		// Grow the segment-info chain first so every new pointer has a home.
		if err := l.allocateInfoListBlocks(bpos, length); err != nil {
			return err
		}

		needed := ceilBlocks(length) - uint32(node.blocks)
		added := uint32(0)
		var werr error
		err := l.walkSegmentSlots(bpos, func(index int, slotPos, blockPos uint32) bool {
			if blockPos != 0 {
				return true
			}
			if added >= needed {
				return false
			}
			npos := l.freelist.allocateBlock()
			if npos == 0 {
				werr = errGeneralFailure
				return false
			}
			writeUint32At(l.fd, int64(slotPos), npos)
			added++
			return true
		})
		if err != nil {
			return err
		}
		if werr != nil {
			return werr
		}
		return l.setFileLengthDirect(bpos, length)
	}
}

// allocateInfoListBlocks adjusts the segment-info chain of the file inode at
// pos so it holds exactly enough blocks to index length bytes beyond the
// pointers that live in the file-info block itself.
func (l *lowlevel) allocateInfoListBlocks(pos, length uint32) error {
	totalPtrs := ceilBlocks(length)
	needed := uint32(0)
	if totalPtrs > segmentsPerFileBlock {
		needed = (totalPtrs - segmentsPerFileBlock + segmentsPerInfoBlock - 1) / segmentsPerInfoBlock
	}

	// Collect the current chain; there is no way to walk it backwards on
	// disk.
	var chain []uint32
	lpos := readUint32At(l.fd, int64(pos)+offFileInfoNext)
	for lpos != 0 {
		chain = append(chain, lpos)
		lpos = readUint32At(l.fd, int64(lpos)+offSegInfoNext)
	}
	current := uint32(len(chain))

	switch {
	case needed == current:
		return nil

	case needed < current:
		for current > needed {
			dpos := chain[current-1]
			if current == 1 {
				writeUint32At(l.fd, int64(pos)+offFileInfoNext, 0)
			} else {
				writeUint32At(l.fd, int64(chain[current-2])+offSegInfoNext, 0)
			}
			if err := l.resetBlock(dpos); err != nil {
				return err
			}
			current--
		}
		return nil

	default:
		last := pos
		lastOff := int64(offFileInfoNext)
		if current > 0 {
			last = chain[current-1]
			lastOff = offSegInfoNext
		}
		for current < needed {
			npos := l.freelist.allocateBlock()
			if npos == 0 {
				return errGeneralFailure
			}
			if err := l.writeInode(npos, newInode(0, "", typeSegInfo)); err != nil {
				return err
			}
			writeUint32At(l.fd, int64(last)+lastOff, npos)
			last = npos
			lastOff = offSegInfoNext
			current++
		}
		return nil
	}
}

// resolvePathname splits path on '/' and walks from the root directory to
// the named inode. '.' stays in place and '..' follows the directory's
// parent field; both are data lookups, never ownership traversal.
func (l *lowlevel) resolvePathname(path string) (uint16, error) {
	id := uint16(0)
	for _, c := range splitPath(path) {
		switch c {
		case ".":
		case "..":
			node := l.inodeByID(id)
			if node.isInvalid() {
				return 0, errNotFound
			}
			id = node.parent
		default:
			node := l.childByName(id, c)
			if node.isInvalid() {
				return 0, errNotFound
			}
			id = node.id
		}
	}
	return id, nil
}

// file returns a stream over the file stored at the given inode.
func (l *lowlevel) file(id uint16) *File {
	return &File{fs: l, fd: l.fd, inodeID: id}
}
