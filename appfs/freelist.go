package appfs

// freeList maintains the cached view of the on-disk free space allocation
// chain. Keys of the cache are the offsets of free blocks; values are the
// offsets of the 4-byte index slots that record them, so both membership
// tests and slot updates are a single map access.
type freeList struct {
	fs    *lowlevel
	fd    *BlockStream
	cache map[uint32]uint32
}

// newFreeList builds the cache by walking the free-list chain rooted in the
// filesystem information block.
func newFreeList(fs *lowlevel, fd *BlockStream) *freeList {
	fl := &freeList{fs: fs, fd: fd, cache: make(map[uint32]uint32)}
	fl.synchronizeCache()
	return fl
}

// allocateBlock finds a free block, marks its index slot as consumed and
// returns the block's position. When no free block is cached, the package
// file is extended by one zero-filled block on the next 4096-byte boundary.
func (fl *freeList) allocateBlock() uint32 {
	if len(fl.cache) == 0 {
		fsize := fl.fd.Size()
		aligned := uint32((fsize + BlockSize - 1) / BlockSize * BlockSize)

		// Consume the block now so the next end-of-file probe sees it.
		fl.fd.SeekP(int64(aligned))
		fl.fd.Write(make([]byte, BlockSize))

		logger.Debugf("freelist: allocate (  new   ) block at %d", aligned)
		return aligned
	}

	var pos, slot uint32
	for pos, slot = range fl.cache {
		break
	}

	// Zero the on-disk index slot to mark the block as taken.
	writeUint32At(fl.fd, int64(slot), 0)
	delete(fl.cache, pos)

	logger.Debugf("freelist: allocate (existing) block at %d", pos)
	return pos
}

// freeBlock records pos as reusable, both on disk and in the cache. The
// block's contents are not erased. When recording the block requires a new
// free-list block and the chain has no spare slot, the freed block itself is
// consumed for list use and is no longer considered free.
func (fl *freeList) freeBlock(pos uint32) {
	slot := fl.indexInList(0, pos)

	// indexInList reports 1 when it repurposed the block being freed as the
	// new free-list block; in that case the block is in use again.
	if slot == 1 {
		logger.Debugf("freelist: reallocated block at %d for list use", pos)
		return
	}
	if slot == 0 {
		logger.Debugf("freelist: unable to record freed block %d on disk", pos)
		return
	}

	writeUint32At(fl.fd, int64(slot), pos)
	fl.cache[pos] = slot
	logger.Debugf("freelist: free block at %d", pos)
}

// isBlockFree reports whether pos is currently on the free list.
func (fl *freeList) isBlockFree(pos uint32) bool {
	_, ok := fl.cache[pos]
	return ok
}

// indexInList walks the free-list chain looking for an index slot whose
// value equals want, returning the slot's position. Asking for a zero slot
// with none available extends the chain with a new free-list block; availPos
// names a block that may be consumed for that purpose (the hint used by
// freeBlock), in which case 1 is returned.
func (fl *freeList) indexInList(want, availPos uint32) uint32 {
	fsinfo := fl.fs.rawInodeAt(OffsetFSInfo)

	fpos := fsinfo.posFreeList
	for fpos != 0 {
		for off := headerSizeFreeList; off < BlockSize; off += 4 {
			v := readUint32At(fl.fd, int64(fpos)+int64(off))
			if v == want {
				return fpos + uint32(off)
			}
		}
		fpos = readUint32At(fl.fd, int64(fpos)+offFreeListNext)
	}

	if want != 0 {
		return 0
	}

	// No empty slot anywhere in the chain; a new free-list block is needed.
	npos := availPos
	if npos == 0 {
		npos = fl.allocateBlock()
	}
	if npos == 0 {
		return 0
	}
	fnode := newInode(0, "", typeFreeList)
	if err := fl.fs.writeInode(npos, fnode); err != nil {
		return 0
	}

	if fsinfo.posFreeList == 0 {
		fsinfo.posFreeList = npos
		fl.fd.SeekP(OffsetFSInfo)
		fl.fd.Write(fsinfo.toBytes())
	} else {
		// Link the new block after the current tail.
		tail := fsinfo.posFreeList
		for {
			next := readUint32At(fl.fd, int64(tail)+offFreeListNext)
			if next == 0 {
				break
			}
			tail = next
		}
		tnode := fl.fs.rawInodeAt(tail)
		tnode.freeListNext = npos
		if err := fl.fs.updateRawInode(tnode, tail); err != nil {
			return 0
		}
	}

	if npos == availPos && availPos != 0 {
		return 1
	}
	return npos + headerSizeFreeList
}

// synchronizeCache rebuilds the cache from the on-disk chain.
func (fl *freeList) synchronizeCache() {
	fl.cache = make(map[uint32]uint32)

	fsinfo := fl.fs.rawInodeAt(OffsetFSInfo)
	fpos := fsinfo.posFreeList
	for fpos != 0 {
		for off := headerSizeFreeList; off < BlockSize; off += 4 {
			v := readUint32At(fl.fd, int64(fpos)+int64(off))
			if v != 0 {
				fl.cache[v] = fpos + uint32(off)
			}
		}
		fpos = readUint32At(fl.fd, int64(fpos)+offFreeListNext)
	}
}
