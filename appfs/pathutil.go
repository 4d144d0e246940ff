package appfs

import (
	"os"
	"strings"
)

// splitPath splits a package path on '/' into its non-empty components.
func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// verifyPath bounds the total path length below the block size and each
// component below the 256-byte on-disk filename field. Embedded NUL bytes
// are rejected outright; filenames are otherwise raw bytes compared
// byte-for-byte.
func verifyPath(original string, components []string) error {
	if len(original) >= BlockSize || strings.ContainsRune(original, 0) {
		return errInvalidPath
	}
	for _, c := range components {
		if len(c) >= 256 || strings.ContainsRune(c, 0) {
			return errInvalidFilename
		}
	}
	return nil
}

// basename returns the final component of a package path, or "" for the
// root.
func basename(path string) string {
	components := splitPath(path)
	if len(components) == 0 {
		return ""
	}
	return components[len(components)-1]
}

// parseOpenMode translates the textual open modes used by the tooling into
// host open flags.
func parseOpenMode(mode string) (int, error) {
	switch mode {
	case "r":
		return os.O_RDONLY, nil
	case "w":
		return os.O_WRONLY, nil
	case "rw":
		return os.O_RDWR, nil
	}
	return 0, ErrInvalidOpenMode
}
