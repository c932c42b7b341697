package image

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropforge/internal/execx"
)

// mountRunner fakes kpartx and mount. Its mount fake populates the
// mount point with the directory skeleton a real base image has.
type mountRunner struct {
	commands []string
	failures map[string]error
}

func (r *mountRunner) run(c *execx.Cmd) error {
	r.commands = append(r.commands, c.String())
	if err := r.failures[c.Name]; err != nil {
		return err
	}
	if c.Name == "mount" {
		prepareImageRoot(c.Args[1])
	}
	return nil
}

func (r *mountRunner) Run(_ context.Context, c *execx.Cmd) error {
	return r.run(c)
}

func (r *mountRunner) Output(_ context.Context, c *execx.Cmd) ([]byte, error) {
	if err := r.run(c); err != nil {
		return nil, err
	}
	if c.Name == "kpartx" && c.Args[0] == "-avs" {
		return []byte("add map loop0p1 (253:0): 0 233439 linear 7:0 2048\n"), nil
	}
	return nil, nil
}

func prepareImageRoot(root string) {
	os.MkdirAll(filepath.Join(root, "usr/local/bin"), 0o755)
	os.MkdirAll(filepath.Join(root, "etc/systemd/system/multi-user.target.wants"), 0o755)
}

func writeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc")
	require.NoError(t, os.WriteFile(path, []byte("#!ELF"), 0o755))
	return path
}

func TestInstallTree(t *testing.T) {
	root := t.TempDir()
	prepareImageRoot(root)

	require.NoError(t, installTree(root, writeBinary(t)))

	installed, err := os.ReadFile(filepath.Join(root, "usr/local/bin/dropforge-service"))
	require.NoError(t, err)
	assert.Equal(t, "#!ELF", string(installed))

	info, err := os.Stat(filepath.Join(root, "usr/local/bin/dropforge-service"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	unit, err := os.ReadFile(filepath.Join(root, "etc/systemd/system/dropforge.service"))
	require.NoError(t, err)
	assert.Contains(t, string(unit), "ExecStart=/usr/local/bin/dropforge-service")

	target, err := os.Readlink(filepath.Join(root, "etc/systemd/system/multi-user.target.wants/dropforge.service"))
	require.NoError(t, err)
	assert.Equal(t, "/etc/systemd/system/dropforge.service", target)
}

func TestInstallPayload(t *testing.T) {
	r := &mountRunner{failures: map[string]error{}}

	err := InstallPayload(context.Background(), r, "/tmp/disk.img", writeBinary(t), t.TempDir())
	require.NoError(t, err)

	// Mount and unmount bracket the installation.
	require.Len(t, r.commands, 4)
	assert.Equal(t, "sudo kpartx -avs /tmp/disk.img", r.commands[0])
	assert.True(t, strings.HasPrefix(r.commands[1], "sudo mount /dev/mapper/loop0p1 "))
	assert.True(t, strings.HasPrefix(r.commands[2], "sudo umount "))
	assert.Equal(t, "sudo kpartx -d /tmp/disk.img", r.commands[3])
}

func TestInstallPayloadReleasesOnFailure(t *testing.T) {
	r := &mountRunner{failures: map[string]error{}}

	// A missing binary fails the install after the image is mounted.
	err := InstallPayload(context.Background(), r, "/tmp/disk.img", "/nonexistent/svc", t.TempDir())
	require.Error(t, err)

	assert.Equal(t, "sudo kpartx -d /tmp/disk.img", r.commands[len(r.commands)-1],
		"the image must be unmounted even when installation fails")
}

func TestInstallPayloadUnmountFailureIsAnError(t *testing.T) {
	r := &mountRunner{failures: map[string]error{}}
	r.failures["umount"] = assert.AnError

	err := InstallPayload(context.Background(), r, "/tmp/disk.img", writeBinary(t), t.TempDir())
	require.Error(t, err, "a build that leaves the image mounted has failed")
}
