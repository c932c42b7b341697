// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic
// and can be tested independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dropforge/dropforge/internal/config"
	"github.com/dropforge/dropforge/internal/distro"
	"github.com/dropforge/dropforge/internal/execx"
	"github.com/dropforge/dropforge/internal/image"
	"github.com/dropforge/dropforge/internal/nixos"
)

const defaultManifestPath = "dropforge.yaml"

// Pipeline interface for testing - matches image.Builder.
type Pipeline interface {
	Build(ctx context.Context, output *os.File) (*nixos.Provenance, error)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadManifest loads the manifest from a file.
	loadManifest = config.LoadFile

	// newRunner creates the external command runner.
	newRunner = execx.New

	// newPipeline wires the build pipeline.
	newPipeline = func(runner execx.Runner, manifest *config.Manifest, tmpdir string) (Pipeline, error) {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache directory: %w", err)
		}
		fetcher, err := distro.NewFetcher(filepath.Join(cacheDir, "dropforge"))
		if err != nil {
			return nil, err
		}
		b := image.NewBuilder(runner, fetcher, nixos.NewBuilder(runner, manifest), manifest)
		b.Tmpdir = tmpdir
		return b, nil
	}
)

// BuildOptions are the inputs to the build command.
type BuildOptions struct {
	ConfigPath    string
	ServiceBinary string
	Output        string
	Tmpdir        string
	ShowTrace     bool
}

// Build builds a disk image and writes it to the configured output path.
func Build(ctx context.Context, opts BuildOptions) error {
	manifest, err := prepareManifest(opts.ConfigPath, opts.ServiceBinary, opts.ShowTrace)
	if err != nil {
		return err
	}

	output, err := os.Create(opts.Output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer output.Close()

	pipeline, err := newPipeline(newRunner(), manifest, opts.Tmpdir)
	if err != nil {
		return err
	}
	prov, err := pipeline.Build(ctx, output)
	if err != nil {
		return err
	}

	log.Printf("built %s (store hash %s)", opts.Output, prov.StoreHash)
	return nil
}

// prepareManifest loads the manifest and binds the CLI-resolved fields.
func prepareManifest(configPath, serviceBinary string, showTrace bool) (*config.Manifest, error) {
	if configPath == "" {
		configPath = defaultManifestPath
	}
	manifest, err := loadManifest(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w\nRun 'dropforge init' to create one", err)
	}

	binary, err := filepath.Abs(serviceBinary)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("service binary: %w", err)
	}
	manifest.Binary = binary
	manifest.ShowNixTrace = showTrace
	return manifest, nil
}

// buildToTempFile runs the pipeline into a scratch file for publishing.
// The caller must call the returned cleanup function.
func buildToTempFile(ctx context.Context, manifest *config.Manifest, tmpdir string) (string, *nixos.Provenance, func(), error) {
	output, err := os.CreateTemp(tmpdir, "dropforge-image-*.img")
	if err != nil {
		return "", nil, nil, err
	}
	path := output.Name()
	cleanup := func() { os.Remove(path) }

	pipeline, err := newPipeline(newRunner(), manifest, tmpdir)
	if err != nil {
		output.Close()
		cleanup()
		return "", nil, nil, err
	}
	prov, err := pipeline.Build(ctx, output)
	closeErr := output.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, nil, err
	}
	return path, prov, cleanup, nil
}
