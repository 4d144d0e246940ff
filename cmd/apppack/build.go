package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/djherbis/times.v1"

	"github.com/hach-que/systemd-packaged/appfs"
)

func buildCommand() *cobra.Command {
	var meta appfs.PackageMetadata

	cmd := &cobra.Command{
		Use:   "build <dir> <image>",
		Short: "Create a package from a host directory tree",
		Long: "Create a new package and import the contents of a host directory into " +
			"it: files, directories and symlinks with their permissions, ownership " +
			"and timestamps.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, image := args[0], args[1]
			if err := appfs.CreatePackage(image, meta); err != nil {
				return err
			}
			pkg, err := appfs.Open(image)
			if err != nil {
				return err
			}
			defer pkg.Close()
			return importTree(pkg, dir)
		},
	}
	cmd.Flags().StringVar(&meta.Name, "app-name", "", "application name recorded in the package")
	cmd.Flags().StringVar(&meta.Version, "app-version", "", "application version recorded in the package")
	cmd.Flags().StringVar(&meta.Description, "app-description", "", "application description recorded in the package")
	cmd.Flags().StringVar(&meta.Author, "app-author", "", "application author recorded in the package")
	return cmd
}

// importTree walks the host tree rooted at dir and recreates it inside the
// package. Symlinks are imported as links, not followed.
func importTree(pkg *appfs.FileSystem, dir string) error {
	root := filepath.Clean(dir)
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := "/" + filepath.ToSlash(rel)

		mode := uint32(info.Mode().Perm())
		switch {
		case info.IsDir():
			if err := pkg.Mkdir(target, mode); err != nil {
				return fmt.Errorf("unable to import directory %s: %w", rel, err)
			}
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := pkg.Symlink(target, linkTarget); err != nil {
				return fmt.Errorf("unable to import symlink %s: %w", rel, err)
			}
		case info.Mode().IsRegular():
			if err := importFile(pkg, path, target, mode); err != nil {
				return fmt.Errorf("unable to import file %s: %w", rel, err)
			}
		default:
			logrus.Warnf("skipping %s: unsupported file type", rel)
			return nil
		}

		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			if err := pkg.Chown(target, int(st.Uid), int(st.Gid)); err != nil {
				return err
			}
		}

		// Stamp host timestamps last so the imports above do not overwrite
		// them.
		ts, err := times.Stat(path)
		if err != nil {
			return err
		}
		return pkg.Utimens(target, ts.AccessTime().Unix(), ts.ModTime().Unix())
	})
}

func importFile(pkg *appfs.FileSystem, hostPath, target string, mode uint32) error {
	if err := pkg.Create(target, mode); err != nil {
		return err
	}
	src, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := pkg.OpenFile(target, "rw")
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, 64*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
