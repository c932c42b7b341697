package commands

import (
	"github.com/spf13/cobra"

	"github.com/dropforge/dropforge/cmd/dropforge/handlers"
)

// CreateOxideImage returns the command for building and publishing an
// image to an Oxide silo.
//
// Environment variables:
//
//	OXIDE_HOST:  silo API address (required)
//	OXIDE_TOKEN: API token (required)
func CreateOxideImage() *cobra.Command {
	var opts handlers.CreateOxideOptions

	cmd := &cobra.Command{
		Use:   "create-oxide-image <service-binary>",
		Short: "Build an image and import it into an Oxide project",
		Long: `Build an image and import it into an Oxide project.

With --deploy, an instance is also created and started from the
published image.

Examples:
  # Import the image into a project
  dropforge create-oxide-image --project prod ./target/my-service

  # Import and boot an instance from it
  dropforge create-oxide-image --project prod --deploy ./target/my-service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ServiceBinary = args[0]
			return handlers.CreateOxideImage(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to manifest file (default: dropforge.yaml)")
	cmd.Flags().StringVar(&opts.Tmpdir, "tmpdir", "", "Directory for multi-gigabyte scratch files")
	cmd.Flags().BoolVar(&opts.ShowTrace, "show-nix-trace", false, "Pass --show-trace to the image builder")
	cmd.Flags().StringVar(&opts.Project, "project", "", "Oxide project receiving the image")
	cmd.Flags().BoolVar(&opts.Deploy, "deploy", false, "Create and start an instance from the image")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
