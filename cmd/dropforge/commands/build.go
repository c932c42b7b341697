package commands

import (
	"github.com/spf13/cobra"

	"github.com/dropforge/dropforge/cmd/dropforge/handlers"
)

// Build returns the command for building a disk image locally.
//
// The positional argument is the service binary to embed. The manifest
// is read from dropforge.yaml unless --config points elsewhere.
func Build() *cobra.Command {
	var opts handlers.BuildOptions

	cmd := &cobra.Command{
		Use:   "build <service-binary>",
		Short: "Build a bootable disk image around a service binary",
		Long: `Build a bootable disk image around a service binary.

The image embeds the binary as a systemd service behind an HTTPS
reverse proxy, configured by the manifest (dropforge.yaml).

Examples:
  # Build using dropforge.yaml in the current directory
  dropforge build --output image.img ./target/my-service

  # Keep multi-gigabyte scratch files on a roomier filesystem
  dropforge build --output image.img --tmpdir /var/tmp ./target/my-service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ServiceBinary = args[0]
			return handlers.Build(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to manifest file (default: dropforge.yaml)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "Where to write the built image")
	cmd.Flags().StringVar(&opts.Tmpdir, "tmpdir", "", "Directory for multi-gigabyte scratch files")
	cmd.Flags().BoolVar(&opts.ShowTrace, "show-nix-trace", false, "Pass --show-trace to the image builder")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
