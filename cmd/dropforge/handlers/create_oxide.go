package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/dropforge/dropforge/internal/nixos"
	"github.com/dropforge/dropforge/internal/oxidepub"
)

// OxidePublisher interface for testing - matches oxidepub.Publisher.
type OxidePublisher interface {
	Publish(ctx context.Context, prov *nixos.Provenance, imagePath string) (string, error)
	Deploy(ctx context.Context, prov *nixos.Provenance, imageID, hostname string) (string, error)
}

// Factory function variables - can be replaced in tests.
var (
	// newOxidePublisher creates a publisher from ambient Oxide credentials.
	newOxidePublisher = func(project string) (OxidePublisher, error) {
		host, token := os.Getenv("OXIDE_HOST"), os.Getenv("OXIDE_TOKEN")
		if host == "" || token == "" {
			return nil, fmt.Errorf("OXIDE_HOST and OXIDE_TOKEN must be set")
		}
		client, err := oxidepub.NewClient(host, token)
		if err != nil {
			return nil, err
		}
		return oxidepub.New(client, project), nil
	}
)

// CreateOxideOptions are the inputs to the create-oxide-image command.
type CreateOxideOptions struct {
	ConfigPath    string
	ServiceBinary string
	Tmpdir        string
	ShowTrace     bool
	Project       string
	Deploy        bool
}

// CreateOxideImage builds an image, imports it into an Oxide project,
// and optionally boots an instance from it.
func CreateOxideImage(ctx context.Context, opts CreateOxideOptions) error {
	manifest, err := prepareManifest(opts.ConfigPath, opts.ServiceBinary, opts.ShowTrace)
	if err != nil {
		return err
	}

	imagePath, prov, cleanup, err := buildToTempFile(ctx, manifest, opts.Tmpdir)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, err := newOxidePublisher(opts.Project)
	if err != nil {
		return err
	}

	imageID, err := publisher.Publish(ctx, prov, imagePath)
	if err != nil {
		return err
	}

	if !opts.Deploy {
		fmt.Println(imageID)
		return nil
	}

	instanceID, err := publisher.Deploy(ctx, prov, imageID, manifest.Hostname)
	if err != nil {
		return err
	}
	fmt.Println(instanceID)
	return nil
}
