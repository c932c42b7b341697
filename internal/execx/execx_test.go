package execx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlain(t *testing.T) {
	c := &Cmd{Name: "kpartx", Args: []string{"-avs", "/tmp/disk.img"}}
	cmd := c.build(context.Background())

	assert.Equal(t, []string{"kpartx", "-avs", "/tmp/disk.img"}, cmd.Args)
	assert.Empty(t, cmd.Dir)
}

func TestBuildSudoPreservesDirAndEnv(t *testing.T) {
	c := &Cmd{
		Name: "mount",
		Args: []string{"/dev/mapper/loop0p1", "/mnt/img"},
		Dir:  "/var/tmp",
		Env:  []string{"LC_ALL=C"},
		Sudo: true,
	}
	cmd := c.build(context.Background())

	require.Equal(t, []string{"sudo", "mount", "/dev/mapper/loop0p1", "/mnt/img"}, cmd.Args)
	// Dir and Env are set on the sudo process itself.
	assert.Equal(t, "/var/tmp", cmd.Dir)
	assert.Contains(t, cmd.Env, "LC_ALL=C")
}

func TestString(t *testing.T) {
	c := &Cmd{Name: "nix", Args: []string{"build", "path with space"}, Sudo: true}
	assert.Equal(t, `sudo nix build "path with space"`, c.String())
}

func TestRunReportsExitStatus(t *testing.T) {
	err := New().Run(context.Background(), &Cmd{Name: "false"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false exited with")
}

func TestOutputCapturesStdout(t *testing.T) {
	out, err := New().Output(context.Background(), &Cmd{Name: "echo", Args: []string{"add map loop0p1"}})
	require.NoError(t, err)
	assert.Equal(t, "add map loop0p1\n", string(out))
}
