package commands

import (
	"github.com/spf13/cobra"

	"github.com/dropforge/dropforge/cmd/dropforge/handlers"
)

// CreateEC2Image returns the command for building and publishing an AMI.
//
// AWS credentials and region come from the usual environment (env vars,
// shared config, instance role).
func CreateEC2Image() *cobra.Command {
	var opts handlers.CreateEC2Options

	cmd := &cobra.Command{
		Use:   "create-ec2-image <service-binary>",
		Short: "Build an image and register it as an EC2 AMI",
		Long: `Build an image and register it as an EC2 AMI.

Publishing is idempotent: rebuilding an unchanged service resolves to
the already-registered AMI instead of uploading again.

Examples:
  # Build and register an AMI
  dropforge create-ec2-image ./target/my-service

  # Also roll the new AMI into a CloudFormation stack
  dropforge create-ec2-image --stack my-service-prod ./target/my-service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ServiceBinary = args[0]
			return handlers.CreateEC2Image(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to manifest file (default: dropforge.yaml)")
	cmd.Flags().StringVar(&opts.Tmpdir, "tmpdir", "", "Directory for multi-gigabyte scratch files")
	cmd.Flags().BoolVar(&opts.ShowTrace, "show-nix-trace", false, "Pass --show-trace to the image builder")
	cmd.Flags().StringVar(&opts.Stack, "stack", "", "CloudFormation stack to point at the new image")
	cmd.Flags().StringVar(&opts.StackParameter, "stack-parameter", "", "Stack parameter receiving the image ID (default: ImageId)")

	return cmd
}
