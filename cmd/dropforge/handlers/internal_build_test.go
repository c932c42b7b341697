package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropforge/internal/execx"
)

func TestInternalBuild(t *testing.T) {
	orig := installPayload
	t.Cleanup(func() { installPayload = orig })

	var gotImage, gotBinary, gotTmpdir string
	installPayload = func(_ context.Context, _ execx.Runner, imagePath, binaryPath, tmpdir string) error {
		gotImage, gotBinary, gotTmpdir = imagePath, binaryPath, tmpdir
		return nil
	}

	require.NoError(t, InternalBuild(context.Background(), "/tmp/disk.img", "/opt/svc", "/var/tmp"))
	assert.Equal(t, "/tmp/disk.img", gotImage)
	assert.Equal(t, "/opt/svc", gotBinary)
	assert.Equal(t, "/var/tmp", gotTmpdir)
}
