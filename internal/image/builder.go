// Package image orchestrates the full disk image build: fetch a base
// image, install the service payload into it under a privileged
// re-exec, run the declarative builder, and append the data filesystem.
package image

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dropforge/dropforge/internal/config"
	"github.com/dropforge/dropforge/internal/execx"
	"github.com/dropforge/dropforge/internal/nixos"
	"github.com/dropforge/dropforge/internal/sparse"
)

// BaseFetcher resolves and caches the upstream base image. An empty
// serial means the latest published one.
type BaseFetcher interface {
	Fetch(ctx context.Context, serial string) (string, error)
}

// NixBuilder produces the bootable image and its provenance.
type NixBuilder interface {
	Build(ctx context.Context, w io.Writer) (*nixos.Provenance, error)
}

// Builder runs the build pipeline end to end.
type Builder struct {
	runner   execx.Runner
	fetcher  BaseFetcher
	nix      NixBuilder
	manifest *config.Manifest

	// Tmpdir, when set, hosts the multi-gigabyte scratch files instead
	// of the default temp directory.
	Tmpdir string
}

// NewBuilder wires a Builder from its collaborators.
func NewBuilder(runner execx.Runner, fetcher BaseFetcher, nix NixBuilder, manifest *config.Manifest) *Builder {
	return &Builder{runner: runner, fetcher: fetcher, nix: nix, manifest: manifest}
}

// Build produces the final disk image in output and returns the
// build's provenance. The base image is prepared in an unprivileged
// temp file; only the payload installation re-execs under sudo so that
// scratch files stay owned by the invoking user.
func (b *Builder) Build(ctx context.Context, output *os.File) (*nixos.Provenance, error) {
	basePath, err := b.fetcher.Fetch(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetching base image: %w", err)
	}

	raw, err := os.CreateTemp(b.Tmpdir, "dropforge-*.img")
	if err != nil {
		return nil, err
	}
	rawPath := raw.Name()
	raw.Close()
	defer os.Remove(rawPath)

	log.Printf("converting base image to raw")
	if err := b.runner.Run(ctx, &execx.Cmd{
		Name: "qemu-img",
		Args: []string{"convert", "-O", "raw", basePath, rawPath},
	}); err != nil {
		return nil, fmt.Errorf("qemu-img convert: %w", err)
	}

	if err := b.installPayload(ctx, rawPath); err != nil {
		return nil, err
	}

	b.manifest.BaseImage = rawPath
	prov, err := b.nix.Build(ctx, output)
	if err != nil {
		return nil, err
	}

	// The data partition rides behind the built image; sparse append
	// keeps the mostly-empty filesystem from bloating the file.
	fs, err := nixos.DataFilesystem()
	if err != nil {
		return nil, err
	}
	defer fs.Close()
	if err := sparse.Append(fs, output); err != nil {
		return nil, fmt.Errorf("appending data filesystem: %w", err)
	}

	return prov, nil
}

// installPayload re-executes this binary under sudo so the mounted
// image is mutated with root privileges while everything else runs
// unprivileged.
func (b *Builder) installPayload(ctx context.Context, imagePath string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"internal-build", "--image", imagePath, "--service-binary", b.manifest.Binary}
	if b.Tmpdir != "" {
		args = append(args, "--tmpdir", b.Tmpdir)
	}
	if err := b.runner.Run(ctx, &execx.Cmd{Name: exe, Args: args, Sudo: true}); err != nil {
		return fmt.Errorf("installing payload: %w", err)
	}
	return nil
}
