package appfs

import "encoding/binary"

// Fixed-width integer access over a BlockStream. Everything on disk is
// little-endian regardless of the host architecture; reads that run past the
// end of the package produce zero values and leave only the eof bit set, the
// same way the stream itself reports a short read.

func readBytes(fd *BlockStream, n int) []byte {
	b := make([]byte, n)
	fd.Read(b)
	return b
}

func readUint16(fd *BlockStream) uint16 {
	var b [2]byte
	fd.Read(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func readUint32(fd *BlockStream) uint32 {
	var b [4]byte
	fd.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func readUint64(fd *BlockStream) uint64 {
	var b [8]byte
	fd.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func writeUint16(fd *BlockStream, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	fd.Write(b[:])
}

func writeUint32(fd *BlockStream, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	fd.Write(b[:])
}

func writeUint64(fd *BlockStream, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	fd.Write(b[:])
}

// Positioned variants. These move the relevant cursor before the access,
// which is how the engine touches individual header fields and pointer slots
// without rewriting whole blocks.

func readUint16At(fd *BlockStream, pos int64) uint16 {
	fd.SeekG(pos)
	return readUint16(fd)
}

func readUint32At(fd *BlockStream, pos int64) uint32 {
	fd.SeekG(pos)
	return readUint32(fd)
}

func writeUint16At(fd *BlockStream, pos int64, v uint16) {
	fd.SeekP(pos)
	writeUint16(fd, v)
}

func writeUint32At(fd *BlockStream, pos int64, v uint32) {
	fd.SeekP(pos)
	writeUint32(fd, v)
}
