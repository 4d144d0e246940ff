// apppack creates and inspects application packages without mounting them.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hach-que/systemd-packaged/appfs"
)

func main() {
	var debug bool

	root := &cobra.Command{
		Use:   "apppack",
		Short: "Create and inspect application packages",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(createCommand())
	root.AddCommand(buildCommand())
	root.AddCommand(infoCommand())
	root.AddCommand(lsCommand())
	root.AddCommand(catCommand())
	root.AddCommand(extractBootstrapCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func createCommand() *cobra.Command {
	var meta appfs.PackageMetadata

	cmd := &cobra.Command{
		Use:   "create <image>",
		Short: "Create a new, empty application package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appfs.CreatePackage(args[0], meta)
		},
	}
	cmd.Flags().StringVar(&meta.Name, "app-name", "", "application name recorded in the package")
	cmd.Flags().StringVar(&meta.Version, "app-version", "", "application version recorded in the package")
	cmd.Flags().StringVar(&meta.Description, "app-description", "", "application description recorded in the package")
	cmd.Flags().StringVar(&meta.Author, "app-author", "", "application author recorded in the package")
	return cmd
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Print the package's filesystem information block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := appfs.Open(args[0])
			if err != nil {
				return err
			}
			defer pkg.Close()

			info, err := pkg.Info()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format version: %d.%d.%d\n", info.VersionMajor, info.VersionMinor, info.VersionRevision)
			fmt.Fprintf(out, "application:    %s %s\n", info.AppName, info.AppVersion)
			fmt.Fprintf(out, "author:         %s\n", info.AppAuthor)
			fmt.Fprintf(out, "description:    %s\n", info.AppDescription)
			fmt.Fprintf(out, "root block:     %d\n", info.RootPosition)
			fmt.Fprintf(out, "free list:      %d\n", info.FreeListPosition)
			return nil
		},
	}
}

func lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <image> <path>",
		Short: "List a directory inside a package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := appfs.Open(args[0])
			if err != nil {
				return err
			}
			defer pkg.Close()

			names, err := pkg.ReadDir(args[1])
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "Write a file inside a package to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := appfs.Open(args[0])
			if err != nil {
				return err
			}
			defer pkg.Close()

			f, err := pkg.OpenFile(args[1], "r")
			if err != nil {
				return err
			}
			defer f.Close()

			buf := make([]byte, 64*1024)
			out := cmd.OutOrStdout()
			for {
				n, rerr := f.Read(buf)
				if n > 0 {
					if _, werr := out.Write(buf[:n]); werr != nil {
						return werr
					}
				}
				if rerr != nil {
					return nil
				}
			}
		},
	}
}

func extractBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract-bootstrap <image> <dest>",
		Short: "Copy the package's bootstrap region into a standalone file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appfs.ExtractBootstrap(args[0], args[1])
		},
	}
}
