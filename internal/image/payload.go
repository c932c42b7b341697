package image

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dropforge/dropforge/internal/diskimage"
	"github.com/dropforge/dropforge/internal/execx"
)

// serviceBinaryPath is where the embedded service lands inside the image.
const serviceBinaryPath = "usr/local/bin/dropforge-service"

const unitPath = "etc/systemd/system/dropforge.service"

//go:embed dropforge.service
var unitFile []byte

// InstallPayload mounts the image, installs the service binary and its
// systemd unit, and unmounts. It runs in the privileged re-exec; the
// caller must already hold root.
//
// Unmounting is part of the operation, not incidental cleanup: a build
// that leaves the image mounted has failed, so the final release error
// is returned.
func InstallPayload(ctx context.Context, runner execx.Runner, imagePath, binaryPath, tmpdir string) error {
	mount, err := diskimage.MountImage(ctx, runner, imagePath, tmpdir)
	if err != nil {
		return err
	}
	released := false
	defer func() {
		if !released {
			mount.ReleaseQuietly()
		}
	}()

	if err := installTree(mount.Dir(), binaryPath); err != nil {
		return err
	}

	released = true
	return mount.Release()
}

// installTree writes the payload into a mounted image root.
func installTree(root, binaryPath string) error {
	log.Printf("copying %s to /%s", binaryPath, serviceBinaryPath)
	if err := copyFile(binaryPath, filepath.Join(root, serviceBinaryPath), 0o755); err != nil {
		return fmt.Errorf("installing service binary: %w", err)
	}

	log.Printf("writing dropforge.service unit")
	if err := os.WriteFile(filepath.Join(root, unitPath), unitFile, 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	wants := filepath.Join(root, "etc/systemd/system/multi-user.target.wants/dropforge.service")
	if err := os.Symlink("/"+unitPath, wants); err != nil {
		return fmt.Errorf("enabling unit: %w", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
