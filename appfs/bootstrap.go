package appfs

import (
	"fmt"
	"io"
	"os"
)

// ExtractBootstrap copies the bootstrap region of the package at source into
// a standalone file at dest. The region is written out as-is; a package
// created without a bootstrap loader yields a zero-filled file.
func ExtractBootstrap(source, dest string) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("unable to open package: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("unable to open bootstrap destination: %w", err)
	}

	if _, err := io.CopyN(dst, src, LengthBootstrap); err != nil {
		_ = dst.Close()
		return fmt.Errorf("unable to copy bootstrap region: %w", err)
	}
	return dst.Close()
}
