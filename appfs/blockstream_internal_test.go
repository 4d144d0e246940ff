package appfs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T) *BlockStream {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o644))
	bs, err := OpenBlockStream(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return bs
}

func TestBlockStreamIndependentCursors(t *testing.T) {
	bs := newTestStream(t)

	bs.SeekP(100)
	bs.Write([]byte("hello"))
	if got := bs.TellP(); got != 105 {
		t.Errorf("TellP: actual %d instead of expected 105", got)
	}
	if got := bs.TellG(); got != 0 {
		t.Errorf("TellG moved with the write cursor: %d", got)
	}

	bs.SeekG(100)
	buf := make([]byte, 5)
	n := bs.Read(buf)
	if n != 5 || !bytes.Equal(buf, []byte("hello")) {
		t.Errorf("Read: actual %d %q", n, buf)
	}
	if got := bs.TellP(); got != 105 {
		t.Errorf("TellP moved with the read cursor: %d", got)
	}
}

func TestBlockStreamExtendsOnWrite(t *testing.T) {
	bs := newTestStream(t)

	bs.SeekP(20000)
	bs.Write([]byte{0xAA})
	if got := bs.Size(); got != 20001 {
		t.Errorf("Size: actual %d instead of expected 20001", got)
	}

	// The gap reads back as zeros.
	bs.SeekG(10000)
	buf := make([]byte, 4)
	bs.Read(buf)
	if !bytes.Equal(buf, make([]byte, 4)) {
		t.Errorf("gap bytes: actual %v", buf)
	}
}

func TestBlockStreamEOF(t *testing.T) {
	bs := newTestStream(t)

	bs.SeekG(8190)
	buf := make([]byte, 10)
	n := bs.Read(buf)
	if n != 2 {
		t.Errorf("short read: actual %d instead of expected 2", n)
	}
	if !bs.EOF() {
		t.Error("eof bit not set after reading past the end")
	}
	if bs.Bad() || bs.Fail() {
		t.Error("eof must not set the bad or fail bits")
	}
	bs.Clear()
	if !bs.Good() {
		t.Error("Clear did not reset the stream state")
	}
}

func TestBlockStreamFailedOpen(t *testing.T) {
	bs, err := OpenBlockStream(filepath.Join(t.TempDir(), "missing.afs"))
	if err == nil {
		t.Fatal("expected an error opening a missing file")
	}
	if !bs.Bad() || !bs.Fail() {
		t.Error("failed open must set bad and fail")
	}

	// Sticky: operations are no-ops and Clear cannot revive it.
	bs.Write([]byte("x"))
	if n := bs.Read(make([]byte, 1)); n != 0 {
		t.Errorf("read on failed stream: actual %d", n)
	}
	bs.Clear()
	if !bs.Bad() || !bs.Fail() {
		t.Error("Clear revived a stream whose open failed")
	}
}
