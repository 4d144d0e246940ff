package appfs

import "io"

// File is a buffered stream over the data blocks of a single file or
// symlink. Reads and writes follow the segment pointers stored in the
// file-info block and its segment-info chain; the blocks backing a file are
// logically contiguous but physically scattered.
//
// Each File carries its own independent read and write cursors, so two
// streams over the same inode do not interfere. Condition bits are sticky:
// once bad or fail is set the stream refuses further work until Clear.
type File struct {
	fs      *lowlevel
	fd      *BlockStream
	inodeID uint16
	opened  bool
	invalid bool
	posg    int64
	posp    int64
	state   streamState
}

// Open verifies the referenced inode holds file data and marks the stream
// usable. Opening anything but a file or symlink sets bad and fail
// permanently.
func (f *File) Open() {
	if f.bad() || f.fail() {
		return
	}
	node := f.fs.inodeByID(f.inodeID)
	f.invalid = node.itype != typeFileInfo && node.itype != typeSymlink
	if f.invalid {
		f.set(badBit | failBit)
		return
	}
	f.opened = true
}

// Close marks the stream closed. The underlying package stays open.
func (f *File) Close() {
	f.opened = false
}

// Size reports the current data length of the file.
func (f *File) Size() uint32 {
	return f.fs.inodeByID(f.inodeID).dataLen
}

// Truncate delegates to the engine's truncation.
func (f *File) Truncate(n int64) error {
	if f.bad() || f.fail() {
		return errStreamFailed
	}
	if err := f.fs.truncateFile(f.inodeID, uint32(n)); err != nil {
		f.set(badBit | failBit)
		return err
	}
	return nil
}

// Write writes len(p) bytes at the write cursor, growing the file first when
// the write extends past the current length.
func (f *File) Write(p []byte) (int, error) {
	if f.bad() || f.fail() {
		return 0, errStreamFailed
	}
	if f.invalid || !f.opened {
		f.set(badBit | failBit)
		return 0, errStreamFailed
	}
	if len(p) == 0 {
		return 0, nil
	}

	bpos := f.fs.inodePosition(f.inodeID)
	fsize := int64(f.Size())

	// Lazy truncation on extend: grow to cover the write before touching
	// any data block, so the segment walk below always finds a home.
	if fsize < f.posp+int64(len(p)) {
		if err := f.Truncate(f.posp + int64(len(p))); err != nil {
			return 0, err
		}
		fsize = f.posp + int64(len(p))
	}

	bstart := f.posp / BlockSize
	bend := (f.posp + int64(len(p)) - 1) / BlockSize

	written := 0
	err := f.fs.walkSegmentSlots(bpos, func(index int, slotPos, blockPos uint32) bool {
		idx := int64(index)
		if idx < bstart {
			return true
		}
		if blockPos == 0 {
			// Out of segments; the pre-truncate should make this
			// impossible.
			f.set(eofBit | failBit)
			return false
		}

		soff := int64(0)
		if idx == bstart {
			soff = f.posp % BlockSize
		}
		n := int64(len(p) - written)
		if rem := BlockSize - soff; n > rem {
			n = rem
		}
		if rem := fsize - f.posp; n > rem {
			n = rem
		}

		f.fd.SeekP(int64(blockPos) + soff)
		f.fd.Write(p[written : written+int(n)])
		written += int(n)
		f.posp += n

		return idx != bend && written < len(p)
	})
	if err != nil {
		f.set(badBit | failBit)
		return written, err
	}
	if f.fail() {
		return written, errStreamFailed
	}
	if f.posp == fsize {
		f.set(f.state | eofBit)
	}
	return written, nil
}

// Read reads up to len(p) bytes at the read cursor, clamping to the current
// file length and reporting io.EOF once the cursor reaches it.
func (f *File) Read(p []byte) (int, error) {
	if f.bad() || f.fail() {
		return 0, errStreamFailed
	}
	if f.invalid || !f.opened {
		f.set(badBit | failBit)
		return 0, errStreamFailed
	}
	if len(p) == 0 {
		return 0, nil
	}

	bpos := f.fs.inodePosition(f.inodeID)
	fsize := int64(f.Size())

	if f.posg >= fsize {
		f.set(f.state | eofBit)
		return 0, io.EOF
	}

	maxRead := int64(len(p))
	if rem := fsize - f.posg; maxRead > rem {
		maxRead = rem
	}

	bstart := f.posg / BlockSize
	bend := (f.posg + maxRead - 1) / BlockSize

	read := 0
	err := f.fs.walkSegmentSlots(bpos, func(index int, slotPos, blockPos uint32) bool {
		idx := int64(index)
		if idx < bstart {
			return true
		}
		if blockPos == 0 {
			f.set(f.state | eofBit)
			return false
		}

		soff := int64(0)
		if idx == bstart {
			soff = f.posg % BlockSize
		}
		n := maxRead - int64(read)
		if rem := BlockSize - soff; n > rem {
			n = rem
		}

		f.fd.SeekG(int64(blockPos) + soff)
		f.fd.Read(p[read : read+int(n)])
		read += int(n)
		f.posg += n

		return idx != bend && int64(read) < maxRead
	})
	if err != nil {
		f.set(badBit | failBit)
		return read, err
	}
	if f.posg == fsize {
		f.set(f.state | eofBit)
	}
	if read == 0 {
		return 0, io.EOF
	}
	return read, nil
}

// SeekG positions the read cursor.
func (f *File) SeekG(pos int64) {
	if f.bad() || f.fail() {
		return
	}
	if f.invalid || !f.opened {
		f.set(badBit | failBit)
		return
	}
	f.posg = pos
}

// SeekP positions the write cursor.
func (f *File) SeekP(pos int64) {
	if f.bad() || f.fail() {
		return
	}
	if f.invalid || !f.opened {
		f.set(badBit | failBit)
		return
	}
	f.posp = pos
}

// TellG reports the read cursor.
func (f *File) TellG() int64 {
	return f.posg
}

// TellP reports the write cursor.
func (f *File) TellP() int64 {
	return f.posp
}

// Clear resets all condition bits.
func (f *File) Clear() {
	f.state = goodState
}

// Good reports whether no condition bits are set.
func (f *File) Good() bool { return f.state == goodState }

// Bad reports whether the bad bit is set.
func (f *File) Bad() bool { return f.bad() }

// Fail reports whether the fail bit is set.
func (f *File) Fail() bool { return f.fail() }

// EOF reports whether the eof bit is set.
func (f *File) EOF() bool { return f.state&eofBit != 0 }

func (f *File) bad() bool  { return f.state&badBit != 0 }
func (f *File) fail() bool { return f.state&failBit != 0 }

func (f *File) set(s streamState) {
	f.state = s
}
