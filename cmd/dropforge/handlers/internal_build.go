package handlers

import (
	"context"
	"syscall"

	"github.com/dropforge/dropforge/internal/image"
)

// installPayload is a factory variable for testing.
var installPayload = image.InstallPayload

// InternalBuild installs the service payload into a raw disk image.
// It runs as the root half of the build: the unprivileged parent
// re-executes this binary under sudo with these arguments.
func InternalBuild(ctx context.Context, imagePath, serviceBinary, tmpdir string) error {
	// Files written into the image must come out world-readable no
	// matter what umask sudo inherited.
	syscall.Umask(0o022)

	return installPayload(ctx, newRunner(), imagePath, serviceBinary, tmpdir)
}
