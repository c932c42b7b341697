package image

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropforge/internal/config"
	"github.com/dropforge/dropforge/internal/execx"
	"github.com/dropforge/dropforge/internal/nixos"
)

type fakeFetcher struct {
	path    string
	serials []string
}

func (f *fakeFetcher) Fetch(_ context.Context, serial string) (string, error) {
	f.serials = append(f.serials, serial)
	return f.path, nil
}

type pipelineRunner struct {
	commands []string
}

func (r *pipelineRunner) Run(_ context.Context, c *execx.Cmd) error {
	r.commands = append(r.commands, c.String())
	return nil
}

func (r *pipelineRunner) Output(_ context.Context, c *execx.Cmd) ([]byte, error) {
	r.commands = append(r.commands, c.String())
	return nil, nil
}

type fakePipelineNix struct {
	iso       []byte
	baseImage string // manifest.BaseImage observed at build time
	manifest  *config.Manifest
}

func (f *fakePipelineNix) Build(_ context.Context, w io.Writer) (*nixos.Provenance, error) {
	f.baseImage = f.manifest.BaseImage
	_, err := w.Write(f.iso)
	return &nixos.Provenance{PackageName: "beachball", StoreHash: "hash"}, err
}

func TestBuildPipeline(t *testing.T) {
	manifest := &config.Manifest{Name: "beachball", Hostname: "b.example.com", Binary: "/opt/svc"}
	manifest.ApplyDefaults()

	fetcher := &fakeFetcher{path: "/cache/base.img"}
	runner := &pipelineRunner{}
	nix := &fakePipelineNix{iso: []byte("iso contents"), manifest: manifest}

	output, err := os.Create(filepath.Join(t.TempDir(), "out.img"))
	require.NoError(t, err)
	defer output.Close()

	b := NewBuilder(runner, fetcher, nix, manifest)
	prov, err := b.Build(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, "beachball", prov.PackageName)

	assert.Equal(t, []string{""}, fetcher.serials, "the latest base image serial is used")

	require.Len(t, runner.commands, 2)
	assert.True(t, strings.HasPrefix(runner.commands[0], "qemu-img convert -O raw /cache/base.img "), "got %q", runner.commands[0])

	exe, err := os.Executable()
	require.NoError(t, err)
	rawPath := strings.Fields(runner.commands[0])[5]
	assert.Equal(t, "sudo "+exe+" internal-build --image "+rawPath+" --service-binary /opt/svc", runner.commands[1])

	assert.Equal(t, rawPath, nix.baseImage, "the prepared base image must be handed to the builder")
	assert.NoFileExists(t, rawPath, "scratch base image must be removed")

	// The output is the built image plus the appended data filesystem.
	info, err := output.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(1<<20))

	head := make([]byte, len(nix.iso))
	_, err = output.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, nix.iso, head)
}

func TestBuildPipelineTmpdir(t *testing.T) {
	manifest := &config.Manifest{Name: "beachball", Hostname: "b.example.com", Binary: "/opt/svc"}
	manifest.ApplyDefaults()

	tmpdir := t.TempDir()
	runner := &pipelineRunner{}
	b := NewBuilder(runner, &fakeFetcher{path: "/cache/base.img"}, &fakePipelineNix{manifest: manifest}, manifest)
	b.Tmpdir = tmpdir

	output, err := os.Create(filepath.Join(t.TempDir(), "out.img"))
	require.NoError(t, err)
	defer output.Close()

	_, err = b.Build(context.Background(), output)
	require.NoError(t, err)

	rawPath := strings.Fields(runner.commands[0])[5]
	assert.Equal(t, tmpdir, filepath.Dir(rawPath), "scratch files must land in the configured tmpdir")
	assert.Contains(t, runner.commands[1], " --tmpdir "+tmpdir)
}
