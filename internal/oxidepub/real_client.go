package oxidepub

import (
	"context"
	"fmt"

	"github.com/oxidecomputer/oxide.go/oxide"
)

// realClient implements Client on top of the generated Oxide SDK.
type realClient struct {
	api *oxide.Client
}

// NewClient builds a Client from ambient Oxide credentials (the same
// environment the oxide CLI uses).
func NewClient(host, token string) (Client, error) {
	api, err := oxide.NewClient(&oxide.Config{
		Host:      host,
		Token:     token,
		UserAgent: "dropforge",
	})
	if err != nil {
		return nil, fmt.Errorf("creating oxide client: %w", err)
	}
	return &realClient{api: api}, nil
}

func (c *realClient) FindImage(ctx context.Context, project, name string) (string, bool, error) {
	page, err := c.api.ImageList(ctx, oxide.ImageListParams{
		Project: oxide.NameOrId(project),
	})
	if err != nil {
		return "", false, fmt.Errorf("listing images: %w", err)
	}
	for _, image := range page.Items {
		if string(image.Name) == name {
			return image.Id, true, nil
		}
	}
	return "", false, nil
}

func (c *realClient) CreateImportDisk(ctx context.Context, project, name, description string, size int64) error {
	_, err := c.api.DiskCreate(ctx, oxide.DiskCreateParams{
		Project: oxide.NameOrId(project),
		Body: &oxide.DiskCreate{
			Name:        oxide.Name(name),
			Description: description,
			DiskSource: oxide.DiskSource{
				Type:      oxide.DiskSourceTypeImportingBlocks,
				BlockSize: oxide.BlockSize(diskBlockSize),
			},
			Size: oxide.ByteCount(size),
		},
	})
	return err
}

func (c *realClient) StartBulkImport(ctx context.Context, project, disk string) error {
	return c.api.DiskBulkWriteImportStart(ctx, oxide.DiskBulkWriteImportStartParams{
		Project: oxide.NameOrId(project),
		Disk:    oxide.NameOrId(disk),
	})
}

func (c *realClient) WriteBulkImport(ctx context.Context, project, disk string, offset int64, base64Data string) error {
	offsetInt := int(offset)
	return c.api.DiskBulkWriteImport(ctx, oxide.DiskBulkWriteImportParams{
		Project: oxide.NameOrId(project),
		Disk:    oxide.NameOrId(disk),
		Body: &oxide.ImportBlocksBulkWrite{
			Offset:            &offsetInt,
			Base64EncodedData: base64Data,
		},
	})
}

func (c *realClient) StopBulkImport(ctx context.Context, project, disk string) error {
	return c.api.DiskBulkWriteImportStop(ctx, oxide.DiskBulkWriteImportStopParams{
		Project: oxide.NameOrId(project),
		Disk:    oxide.NameOrId(disk),
	})
}

func (c *realClient) FinalizeImport(ctx context.Context, project, disk, snapshot string) error {
	return c.api.DiskFinalizeImport(ctx, oxide.DiskFinalizeImportParams{
		Project: oxide.NameOrId(project),
		Disk:    oxide.NameOrId(disk),
		Body: &oxide.FinalizeDisk{
			SnapshotName: oxide.Name(snapshot),
		},
	})
}

func (c *realClient) SnapshotID(ctx context.Context, project, name string) (string, error) {
	snapshot, err := c.api.SnapshotView(ctx, oxide.SnapshotViewParams{
		Project:  oxide.NameOrId(project),
		Snapshot: oxide.NameOrId(name),
	})
	if err != nil {
		return "", fmt.Errorf("viewing snapshot %s: %w", name, err)
	}
	return snapshot.Id, nil
}

func (c *realClient) CreateImage(ctx context.Context, project, name, description, snapshotID string) (string, error) {
	image, err := c.api.ImageCreate(ctx, oxide.ImageCreateParams{
		Project: oxide.NameOrId(project),
		Body: &oxide.ImageCreate{
			Name:        oxide.Name(name),
			Description: description,
			Os:          "NixOS",
			Version:     "0.0.0",
			Source: oxide.ImageSource{
				Type: oxide.ImageSourceTypeSnapshot,
				Id:   snapshotID,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating image %s: %w", name, err)
	}
	return image.Id, nil
}

func (c *realClient) LaunchInstance(ctx context.Context, project string, spec InstanceSpec) (string, error) {
	start := true
	instance, err := c.api.InstanceCreate(ctx, oxide.InstanceCreateParams{
		Project: oxide.NameOrId(project),
		Body: &oxide.InstanceCreate{
			Name:        oxide.Name(spec.Name),
			Description: spec.Description,
			Hostname:    oxide.Hostname(spec.Hostname),
			Memory:      oxide.ByteCount(spec.Memory),
			Ncpus:       oxide.InstanceCpuCount(spec.CPUs),
			Disks: []oxide.InstanceDiskAttachment{{
				Type:        oxide.InstanceDiskAttachmentTypeCreate,
				Name:        oxide.Name(spec.DiskName),
				Description: spec.Description,
				Size:        oxide.ByteCount(spec.DiskSize),
				DiskSource: oxide.DiskSource{
					Type:    oxide.DiskSourceTypeImage,
					ImageId: spec.ImageID,
				},
			}},
			ExternalIps: []oxide.ExternalIpCreate{{
				Type: oxide.ExternalIpCreateTypeEphemeral,
			}},
			Start: &start,
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating instance %s: %w", spec.Name, err)
	}
	return instance.Id, nil
}
