package commands

import (
	"github.com/spf13/cobra"

	"github.com/dropforge/dropforge/cmd/dropforge/handlers"
)

// InternalBuild returns the hidden subcommand the build pipeline
// re-executes under sudo to mutate the mounted image as root.
func InternalBuild() *cobra.Command {
	var imagePath, serviceBinary, tmpdir string

	cmd := &cobra.Command{
		Use:    "internal-build",
		Short:  "Internal subcommand for image build steps that require root",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.InternalBuild(cmd.Context(), imagePath, serviceBinary, tmpdir)
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Raw disk image to mutate")
	cmd.Flags().StringVar(&serviceBinary, "service-binary", "", "Service binary to install into the image")
	cmd.Flags().StringVar(&tmpdir, "tmpdir", "", "Directory for the mount point")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("service-binary")

	return cmd
}
