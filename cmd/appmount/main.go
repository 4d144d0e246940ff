// appmount attaches an application package to the host filesystem.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hach-que/systemd-packaged/fuselink"
)

func main() {
	var (
		allowOther bool
		foreground bool
		debug      bool
	)

	root := &cobra.Command{
		Use:   "appmount <image> <mountpoint>",
		Short: "Mount an application package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			if debug {
				log.SetLevel(logrus.DebugLevel)
			}

			image, mountpoint := args[0], args[1]

			log.Infof("the application package will now be mounted at %s", mountpoint)
			log.Info("use fusermount (or umount if root) to unmount the package;")
			log.Info("the package is held exclusively while mounted")

			mounter, err := fuselink.Mount(image, mountpoint, fuselink.MountOptions{
				AllowOther: allowOther,
				Debug:      debug,
				Logger:     log,
			})
			if err != nil {
				log.Errorf("unable to mount the application package: %v", err)
				return err
			}

			if !foreground {
				// The FUSE loop owns the process either way and the mount
				// never detaches; logging goes to stderr in both modes.
				log.SetOutput(os.Stderr)
			}
			mounter.Serve()
			return nil
		},
		SilenceUsage: false,
	}

	root.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mounted filesystem")
	root.Flags().BoolVarP(&foreground, "foreground", "f", true, "stay in the foreground while mounted (the mount does not detach when false)")
	root.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
