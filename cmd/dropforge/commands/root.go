// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the dropforge CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropforge",
		Short: "Build and publish bootable images around a service binary",
	}

	cmd.AddCommand(Init())
	cmd.AddCommand(Build())
	cmd.AddCommand(CreateEC2Image())
	cmd.AddCommand(CreateOxideImage())
	cmd.AddCommand(Version())

	// Privileged re-exec target, not part of the public surface.
	cmd.AddCommand(InternalBuild())

	return cmd
}
