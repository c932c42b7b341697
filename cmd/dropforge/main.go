// Package main is the entry point for the dropforge CLI.
//
// dropforge builds a bootable disk image around a service binary and
// publishes it to a cloud provider. An interrupt during a build must
// run the mount/device-map cleanup paths, so command execution is
// wired to a signal-aware context rather than killed outright.
//
// Commands: init, build, create-ec2-image, create-oxide-image, version.
//
// For detailed usage information, run:
//
//	dropforge --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dropforge/dropforge/cmd/dropforge/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			// 128 + SIGINT, the shell convention for death by ctrl-C.
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
