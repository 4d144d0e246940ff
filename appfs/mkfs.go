package appfs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// PackageMetadata is the application metadata recorded in a new package's
// filesystem information block.
type PackageMetadata struct {
	Name        string
	Version     string
	Description string
	Author      string
}

// CreatePackage writes a fresh, empty package at path: a zeroed bootstrap
// region, the inode lookup table with the root at slot 0, the filesystem
// information block and the root directory block.
func CreatePackage(path string, meta PackageMetadata) error {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("unable to open new package path for writing: %w", err)
	}
	w := bufio.NewWriter(fd)

	// Bootstrap region.
	zeros := make([]byte, 64*1024)
	for written := 0; written < LengthBootstrap; written += len(zeros) {
		chunk := LengthBootstrap - written
		if chunk > len(zeros) {
			chunk = len(zeros)
		}
		if _, err := w.Write(zeros[:chunk]); err != nil {
			_ = fd.Close()
			return err
		}
	}

	// Lookup table: the root directory occupies slot 0.
	lookup := make([]byte, LengthLookup)
	binary.LittleEndian.PutUint32(lookup[0:4], OffsetData)
	if _, err := w.Write(lookup); err != nil {
		_ = fd.Close()
		return err
	}

	// Filesystem information block. The first free-list block is created
	// automatically the first time a block is freed.
	fsnode := newInode(0, "", typeFSInfo)
	fsnode.verMajor = versionMajor
	fsnode.verMinor = versionMinor
	fsnode.verRevision = versionRevision
	fsnode.appName = clampField(meta.Name, 255)
	fsnode.appVersion = clampField(meta.Version, 31)
	fsnode.appDesc = clampField(meta.Description, 1023)
	fsnode.appAuthor = clampField(meta.Author, 255)
	fsnode.posRoot = OffsetData
	fsnode.posFreeList = 0
	if err := writePadded(w, fsnode.toBytes(), LengthFSInfo); err != nil {
		_ = fd.Close()
		return err
	}

	// Root directory block.
	stamp := now()
	rnode := newInode(0, "", typeDirectory)
	rnode.uid = 0
	rnode.gid = 1000
	rnode.mask = 0o777
	rnode.atime = stamp
	rnode.mtime = stamp
	rnode.ctime = stamp
	rnode.parent = 0
	rnode.childrenCount = 0
	if err := writePadded(w, rnode.toBytes(), BlockSize); err != nil {
		_ = fd.Close()
		return err
	}

	if err := w.Flush(); err != nil {
		_ = fd.Close()
		return err
	}
	return fd.Close()
}

func writePadded(w *bufio.Writer, b []byte, size int) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	for i := len(b); i < size; i++ {
		if err := w.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

func clampField(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
