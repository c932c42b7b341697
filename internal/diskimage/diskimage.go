// Package diskimage maps the partitions of a raw disk image into block
// devices and mounts them, with guaranteed release on every exit path.
//
// The two resources form an ownership chain: a Mount owns the
// PartitionMap beneath it, and teardown is strictly reverse order —
// unmount before unmap, unmap before the backing file may be reused.
// Release methods are idempotent so a deferred guard and an explicit
// success-path release cannot double-free.
package diskimage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dropforge/dropforge/internal/execx"
)

// ErrNoPartitions means the mapping tool discovered no partitions in the
// backing file, i.e. it is not a valid partitioned disk image.
var ErrNoPartitions = errors.New("no partitions detected from kpartx output")

// PartitionMap holds the mapped partition devices of a backing file.
type PartitionMap struct {
	runner     execx.Runner
	backing    string
	partitions []string
	released   bool
}

// MapPartitions maps the partitions of backing into /dev/mapper devices.
// Discovering zero partitions is fatal; the mapping is torn down before
// the error is returned.
func MapPartitions(ctx context.Context, runner execx.Runner, backing string) (*PartitionMap, error) {
	out, err := runner.Output(ctx, &execx.Cmd{Name: "kpartx", Args: []string{"-avs", backing}, Sudo: true})
	if err != nil {
		return nil, fmt.Errorf("kpartx -avs: %w", err)
	}

	m := &PartitionMap{runner: runner, backing: backing}
	for _, line := range strings.Split(string(out), "\n") {
		rest, ok := strings.CutPrefix(line, "add map ")
		if !ok {
			continue
		}
		if fields := strings.Fields(rest); len(fields) > 0 {
			m.partitions = append(m.partitions, fields[0])
		}
	}
	if len(m.partitions) == 0 {
		// kpartx may still have created devices it did not report.
		if rerr := m.Release(); rerr != nil {
			log.Printf("warning: cleanup failed: %v", rerr)
		}
		return nil, ErrNoPartitions
	}
	return m, nil
}

// Partitions returns the mapped partition device names in disk order.
func (m *PartitionMap) Partitions() []string {
	return m.partitions
}

// MainPartition returns the device path of the first partition.
func (m *PartitionMap) MainPartition() string {
	return "/dev/mapper/" + m.partitions[0]
}

// Release tears down the partition devices. It is idempotent, and it
// deliberately ignores the caller's context: unmapping must still run
// when the surrounding operation was cancelled.
func (m *PartitionMap) Release() error {
	if m.released {
		return nil
	}
	err := m.runner.Run(context.Background(), &execx.Cmd{Name: "kpartx", Args: []string{"-d", m.backing}, Sudo: true})
	if err != nil {
		return fmt.Errorf("kpartx -d: %w", err)
	}
	m.released = true
	return nil
}

// Mount is a mounted partition map. While live, Dir is a mounted
// filesystem; Release unmounts it and then releases the owned
// PartitionMap.
type Mount struct {
	runner    execx.Runner
	dir       string
	parts     *PartitionMap
	unmounted bool
}

// MountImage maps backing and mounts its first partition at a fresh
// temporary directory under parent (or the default temp dir if parent is
// empty). On any failure after mapping, the partition map is released
// before the error is returned.
func MountImage(ctx context.Context, runner execx.Runner, backing, parent string) (*Mount, error) {
	parts, err := MapPartitions(ctx, runner, backing)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(parent, "dropforge-mount-")
	if err != nil {
		releaseQuietly(parts)
		return nil, fmt.Errorf("creating mount directory: %w", err)
	}

	if err := runner.Run(ctx, &execx.Cmd{Name: "mount", Args: []string{parts.MainPartition(), dir}, Sudo: true}); err != nil {
		os.Remove(dir)
		releaseQuietly(parts)
		return nil, fmt.Errorf("mounting %s: %w", parts.MainPartition(), err)
	}

	return &Mount{runner: runner, dir: dir, parts: parts}, nil
}

// Dir returns the mount directory.
func (m *Mount) Dir() string {
	return m.dir
}

// Release unmounts and then unmaps, in that order. Idempotent. Like
// PartitionMap.Release it runs against a background context so teardown
// survives cancellation of the surrounding operation.
func (m *Mount) Release() error {
	if !m.unmounted {
		if err := m.runner.Run(context.Background(), &execx.Cmd{Name: "umount", Args: []string{m.dir}, Sudo: true}); err != nil {
			return fmt.Errorf("umount %s: %w", m.dir, err)
		}
		m.unmounted = true
		if err := os.Remove(m.dir); err != nil {
			log.Printf("warning: removing mount directory: %v", err)
		}
	}
	return m.parts.Release()
}

// ReleaseQuietly releases m and logs, rather than returns, any cleanup
// failure. It is the deferred-guard form of Release for paths where a
// primary error is already being propagated and must not be masked.
func (m *Mount) ReleaseQuietly() {
	if err := m.Release(); err != nil {
		log.Printf("warning: cleanup failed: %v", err)
	}
}

func releaseQuietly(parts *PartitionMap) {
	if err := parts.Release(); err != nil {
		log.Printf("warning: cleanup failed: %v", err)
	}
}
