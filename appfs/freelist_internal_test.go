package appfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateExtendsPackage(t *testing.T) {
	l := openTestLowlevel(t)
	fl := l.freelist

	before := l.fd.Size()
	pos := fl.allocateBlock()
	if int64(pos) != before {
		t.Errorf("allocated block at %d instead of the old end of file %d", pos, before)
	}
	if pos%BlockSize != 0 {
		t.Errorf("allocated block not aligned: %d", pos)
	}
	if l.fd.Size() != before+BlockSize {
		t.Errorf("package grew by %d instead of one block", l.fd.Size()-before)
	}

	// Each allocation into an empty cache extends by exactly one block.
	for i := 0; i < 4; i++ {
		fl.allocateBlock()
	}
	if l.fd.Size() != before+5*BlockSize {
		t.Errorf("five allocations grew the package to %d", l.fd.Size())
	}
}

func TestAllocateFreeRestoresCache(t *testing.T) {
	l := openTestLowlevel(t)
	fl := l.freelist

	// Seed the free-list chain so the consumed-for-list-use special case is
	// out of the way.
	seed := fl.allocateBlock()
	fl.freeBlock(seed)

	baseline := make(map[uint32]bool)
	for pos := range fl.cache {
		baseline[pos] = true
	}

	var blocks []uint32
	for i := 0; i < 8; i++ {
		blocks = append(blocks, fl.allocateBlock())
	}
	for _, pos := range blocks {
		fl.freeBlock(pos)
	}
	for _, pos := range blocks {
		if !fl.isBlockFree(pos) {
			t.Errorf("block %d not free after free", pos)
		}
	}

	// Allocate them all back out: the cache key set returns to its baseline.
	for range blocks {
		fl.allocateBlock()
	}
	if len(fl.cache) != len(baseline) {
		t.Fatalf("cache size: actual %d instead of expected %d", len(fl.cache), len(baseline))
	}
	for pos := range fl.cache {
		if !baseline[pos] {
			t.Errorf("unexpected cache entry %d", pos)
		}
	}
}

func TestFreeBlockSurvivesReopen(t *testing.T) {
	path := createTestPackage(t)
	fd, err := OpenBlockStream(path)
	require.NoError(t, err)
	l := newLowlevel(fd)

	seed := l.freelist.allocateBlock()
	l.freelist.freeBlock(seed)
	freed := l.freelist.allocateBlock()
	l.freelist.freeBlock(freed)
	require.NoError(t, fd.Close())

	fd2, err := OpenBlockStream(path)
	require.NoError(t, err)
	defer fd2.Close()
	l2 := newLowlevel(fd2)

	if !l2.freelist.isBlockFree(freed) {
		t.Error("freed block lost across reopen")
	}
}

func TestFreeBlockConsumedForListUse(t *testing.T) {
	l := openTestLowlevel(t)
	fl := l.freelist

	// With an empty chain, the very first freed block becomes the chain's
	// head instead of being recorded as free.
	pos := fl.allocateBlock()
	fl.freeBlock(pos)

	if fl.isBlockFree(pos) {
		t.Error("block consumed for the free list must not be considered free")
	}
	if node := l.rawInodeAt(pos); node.itype != typeFreeList {
		t.Errorf("consumed block type: actual %v instead of free-list", node.itype)
	}

	fsinfo := l.rawInodeAt(OffsetFSInfo)
	if fsinfo.posFreeList != pos {
		t.Errorf("fs-info free-list head: actual %d instead of expected %d", fsinfo.posFreeList, pos)
	}
}

func TestIsBlockFree(t *testing.T) {
	l := openTestLowlevel(t)
	fl := l.freelist

	seed := fl.allocateBlock()
	fl.freeBlock(seed)

	pos := fl.allocateBlock()
	if fl.isBlockFree(pos) {
		t.Error("allocated block reported free")
	}
	fl.freeBlock(pos)
	if !fl.isBlockFree(pos) {
		t.Error("freed block not reported free")
	}

	got := fl.allocateBlock()
	if got != pos {
		t.Errorf("allocation ignored the cached free block: %d instead of %d", got, pos)
	}
	if fl.isBlockFree(pos) {
		t.Error("block still reported free after allocation")
	}
}
