package appfs

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", nil},
		{"", nil},
		{"/a", []string{"a"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"//a///b/", []string{"a", "b"}},
		{"a/b", []string{"a", "b"}},
		{"/a/./..", []string{"a", ".", ".."}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, splitPath(tt.path)); diff != "" {
				t.Errorf("splitPath(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestVerifyPath(t *testing.T) {
	longName := strings.Repeat("x", 300)
	longPath := "/" + strings.Repeat("a/", BlockSize/2)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"simple", "/etc/passwd", nil},
		{"root", "/", nil},
		{"component too long", "/" + longName, errInvalidFilename},
		{"path too long", longPath, errInvalidPath},
		{"embedded nul", "/a\x00b", errInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyPath(tt.path, splitPath(tt.path))
			if !errors.Is(err, tt.want) {
				t.Errorf("verifyPath(%q): actual %v instead of expected %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestBasename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", ""},
		{"/a", "a"},
		{"/a/b/c", "c"},
		{"a/b/", "b"},
	}
	for _, tt := range tests {
		if got := basename(tt.path); got != tt.want {
			t.Errorf("basename(%q): actual %q instead of expected %q", tt.path, got, tt.want)
		}
	}
}

func TestParseOpenMode(t *testing.T) {
	for _, mode := range []string{"r", "w", "rw"} {
		if _, err := parseOpenMode(mode); err != nil {
			t.Errorf("parseOpenMode(%q): unexpected error %v", mode, err)
		}
	}
	if _, err := parseOpenMode("a+"); !errors.Is(err, ErrInvalidOpenMode) {
		t.Errorf("parseOpenMode(a+): actual %v instead of ErrInvalidOpenMode", err)
	}
}
