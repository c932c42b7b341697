package oxidepub

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dropforge/dropforge/internal/naming"
	"github.com/dropforge/dropforge/internal/nixos"
)

const (
	// diskBlockSize is the logical block size of the import disk.
	diskBlockSize = 512

	// importChunkSize is how much data each bulk-write request carries.
	importChunkSize = 512 * 1024

	gib = 1 << 30
)

// Publisher uploads raw disk images into an Oxide project as images.
// Publishing is idempotent on the image name, which encodes the build's
// store hash.
type Publisher struct {
	client  Client
	project string
}

// New returns a Publisher targeting the given project.
func New(client Client, project string) *Publisher {
	return &Publisher{client: client, project: project}
}

// Publish imports imagePath as a project image named after the build's
// provenance and returns the image ID. If an image of that name already
// exists it is returned as-is without uploading anything.
func (p *Publisher) Publish(ctx context.Context, prov *nixos.Provenance, imagePath string) (string, error) {
	imageName := naming.OxideImage(prov.PackageName, prov.StoreHash)
	log.Printf("image name: %s", imageName)

	if id, ok, err := p.client.FindImage(ctx, p.project, imageName); err != nil {
		return "", fmt.Errorf("checking for existing image: %w", err)
	} else if ok {
		log.Printf("image already registered")
		return id, nil
	}

	size, err := diskSize(imagePath)
	if err != nil {
		return "", err
	}

	diskName := naming.OxideDisk(imageName)
	description := "dropforge " + imageName
	if err := p.client.CreateImportDisk(ctx, p.project, diskName, description, size); err != nil {
		return "", fmt.Errorf("creating import disk %s: %w", diskName, err)
	}

	log.Printf("uploading image to disk %s", diskName)
	if err := p.uploadBlocks(ctx, diskName, imagePath); err != nil {
		return "", err
	}

	snapshotName := naming.OxideSnapshot(imageName)
	if err := p.client.FinalizeImport(ctx, p.project, diskName, snapshotName); err != nil {
		return "", fmt.Errorf("finalizing import of %s: %w", diskName, err)
	}
	snapshotID, err := p.client.SnapshotID(ctx, p.project, snapshotName)
	if err != nil {
		return "", err
	}

	imageID, err := p.client.CreateImage(ctx, p.project, imageName, description, snapshotID)
	if err != nil {
		return "", err
	}
	return imageID, nil
}

// Deploy creates and starts an instance booting from a published image.
func (p *Publisher) Deploy(ctx context.Context, prov *nixos.Provenance, imageID, hostname string) (string, error) {
	imageName := naming.OxideImage(prov.PackageName, prov.StoreHash)
	log.Printf("deploying instance %s", imageName)
	return p.client.LaunchInstance(ctx, p.project, InstanceSpec{
		Name:        imageName,
		Description: "dropforge " + imageName,
		Hostname:    hostname,
		ImageID:     imageID,
		DiskName:    naming.OxideInstanceDisk(imageName),
		DiskSize:    100 * gib,
		Memory:      8 * gib,
		CPUs:        4,
	})
}

// uploadBlocks streams the file through the bulk-write API in fixed
// chunks. All-zero chunks are skipped entirely; the import disk reads
// back zeros for unwritten ranges, so skipping them uploads a sparse
// image in a fraction of the requests.
func (p *Publisher) uploadBlocks(ctx context.Context, diskName, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := p.client.StartBulkImport(ctx, p.project, diskName); err != nil {
		return fmt.Errorf("starting bulk import: %w", err)
	}

	chunk := make([]byte, importChunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(f, chunk)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("reading chunk at offset %d: %w", offset, err)
		}
		if !allZero(chunk[:n]) {
			data := base64.StdEncoding.EncodeToString(chunk[:n])
			if err := p.client.WriteBulkImport(ctx, p.project, diskName, offset, data); err != nil {
				return fmt.Errorf("writing chunk at offset %d: %w", offset, err)
			}
		}
		offset += importChunkSize
	}

	if err := p.client.StopBulkImport(ctx, p.project, diskName); err != nil {
		return fmt.Errorf("stopping bulk import: %w", err)
	}
	return nil
}

// diskSize rounds a file's size up to the whole-GiB multiple the
// control plane requires, with 1 GiB as the floor.
func diskSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if rem := size % gib; rem != 0 {
		size += gib - rem
	}
	if size < gib {
		size = gib
	}
	return size, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
