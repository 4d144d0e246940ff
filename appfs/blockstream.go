package appfs

import (
	"io"
	"os"
	"sync"
)

// streamState tracks sticky stream condition bits, mirroring the
// good/bad/fail/eof flags of the stream the package file is accessed
// through.
type streamState uint8

const (
	goodState streamState = 0
	badBit    streamState = 1 << iota
	failBit
	eofBit
)

// BlockStream wraps the package file and serialises all access to it under a
// single mutex, so concurrent callers observe atomic cursor motions. Read and
// write cursors are independent. Error state is sticky: once the bad or fail
// bits are set, reads and writes become no-ops until Clear is called.
type BlockStream struct {
	mu     sync.Mutex
	fd     *os.File
	posg   int64
	posp   int64
	state  streamState
	opened bool
}

// OpenBlockStream opens an existing package file for read/write access. A
// failed open returns a stream whose bad and fail bits are set permanently.
func OpenBlockStream(filename string) (*BlockStream, error) {
	fd, err := os.OpenFile(filename, os.O_RDWR, 0o644)
	if err != nil {
		return &BlockStream{state: badBit | failBit}, err
	}
	return &BlockStream{fd: fd, opened: true}, nil
}

// Read reads up to len(p) bytes at the read cursor, advancing it by the
// number of bytes actually produced.
func (bs *BlockStream) Read(p []byte) int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.usable() {
		return 0
	}
	n, err := bs.fd.ReadAt(p, bs.posg)
	bs.posg += int64(n)
	if err == io.EOF {
		bs.state |= eofBit
	} else if err != nil {
		bs.state |= badBit | failBit
	}
	return n
}

// Write writes len(p) bytes at the write cursor. Writing past the current end
// of the file extends it; any gap is filled with zero bytes.
func (bs *BlockStream) Write(p []byte) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.usable() {
		return
	}
	n, err := bs.fd.WriteAt(p, bs.posp)
	bs.posp += int64(n)
	if err != nil {
		bs.state |= badBit | failBit
	}
}

// SeekG positions the read cursor.
func (bs *BlockStream) SeekG(pos int64) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.usable() {
		return
	}
	bs.posg = pos
}

// SeekP positions the write cursor.
func (bs *BlockStream) SeekP(pos int64) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.usable() {
		return
	}
	bs.posp = pos
}

// TellG reports the read cursor.
func (bs *BlockStream) TellG() int64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.posg
}

// TellP reports the write cursor.
func (bs *BlockStream) TellP() int64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.posp
}

// Size reports the current length of the package file, or 0 if the stream is
// unusable.
func (bs *BlockStream) Size() int64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.usable() {
		return 0
	}
	info, err := bs.fd.Stat()
	if err != nil {
		bs.state |= badBit | failBit
		return 0
	}
	return info.Size()
}

// Close closes the underlying file.
func (bs *BlockStream) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.opened {
		return nil
	}
	bs.opened = false
	return bs.fd.Close()
}

// IsOpen reports whether the stream was successfully opened and has not been
// closed.
func (bs *BlockStream) IsOpen() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.opened
}

// Clear resets all sticky condition bits. It cannot revive a stream whose
// open failed.
func (bs *BlockStream) Clear() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.opened {
		bs.state = badBit | failBit
		return
	}
	bs.state = goodState
}

// Good reports whether no condition bits are set.
func (bs *BlockStream) Good() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.state == goodState
}

// Bad reports whether the bad bit is set.
func (bs *BlockStream) Bad() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.state&badBit != 0
}

// Fail reports whether the fail bit is set.
func (bs *BlockStream) Fail() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.state&failBit != 0
}

// EOF reports whether the eof bit is set.
func (bs *BlockStream) EOF() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.state&eofBit != 0
}

// usable is called with the mutex held.
func (bs *BlockStream) usable() bool {
	if !bs.opened || bs.state&(badBit|failBit) != 0 {
		bs.state |= badBit | failBit
		return false
	}
	return true
}
