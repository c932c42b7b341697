package commands

import (
	"github.com/spf13/cobra"

	"github.com/dropforge/dropforge/cmd/dropforge/handlers"
)

// Init returns the command for interactively creating a manifest.
func Init() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a manifest interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), outputPath)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "dropforge.yaml", "Where to write the manifest")

	return cmd
}
