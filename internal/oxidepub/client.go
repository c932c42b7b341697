// Package oxidepub publishes built disk images to an Oxide silo via the
// bulk disk-import flow, and can optionally deploy an instance from the
// published image.
package oxidepub

import "context"

// InstanceSpec describes the instance deployed from a published image.
type InstanceSpec struct {
	Name        string
	Description string
	Hostname    string
	ImageID     string
	DiskName    string
	DiskSize    int64
	Memory      int64
	CPUs        int
}

// Client is the subset of the Oxide API the publisher drives. The real
// implementation wraps the generated SDK; tests substitute a mock.
type Client interface {
	// FindImage looks up a project image by name.
	FindImage(ctx context.Context, project, name string) (id string, ok bool, err error)

	// CreateImportDisk creates a disk in import mode, ready to receive
	// bulk block writes.
	CreateImportDisk(ctx context.Context, project, name, description string, size int64) error

	StartBulkImport(ctx context.Context, project, disk string) error
	WriteBulkImport(ctx context.Context, project, disk string, offset int64, base64Data string) error
	StopBulkImport(ctx context.Context, project, disk string) error

	// FinalizeImport completes the import and snapshots the disk.
	FinalizeImport(ctx context.Context, project, disk, snapshot string) error

	// SnapshotID resolves a snapshot name to its ID.
	SnapshotID(ctx context.Context, project, name string) (string, error)

	// CreateImage creates a project image from a snapshot.
	CreateImage(ctx context.Context, project, name, description, snapshotID string) (string, error)

	// LaunchInstance creates and starts an instance booting from the
	// given image.
	LaunchInstance(ctx context.Context, project string, spec InstanceSpec) (string, error)
}
