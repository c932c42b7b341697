package handlers

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/dropforge/dropforge/internal/ec2pub"
	"github.com/dropforge/dropforge/internal/nixos"
)

// EC2Publisher interface for testing - matches ec2pub.Publisher.
type EC2Publisher interface {
	Publish(ctx context.Context, prov *nixos.Provenance, imagePath string) (string, error)
	UpdateDeploymentStack(ctx context.Context, stackName, parameterKey, imageID string) error
}

// Factory function variables - can be replaced in tests.
var (
	// newEC2Publisher creates a publisher from ambient AWS credentials.
	newEC2Publisher = func(ctx context.Context) (EC2Publisher, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return ec2pub.New(ec2pub.NewClients(cfg)), nil
	}
)

// CreateEC2Options are the inputs to the create-ec2-image command.
type CreateEC2Options struct {
	ConfigPath     string
	ServiceBinary  string
	Tmpdir         string
	ShowTrace      bool
	Stack          string
	StackParameter string
}

// CreateEC2Image builds an image, registers it as an AMI, and
// optionally rolls it into a CloudFormation stack.
func CreateEC2Image(ctx context.Context, opts CreateEC2Options) error {
	manifest, err := prepareManifest(opts.ConfigPath, opts.ServiceBinary, opts.ShowTrace)
	if err != nil {
		return err
	}

	imagePath, prov, cleanup, err := buildToTempFile(ctx, manifest, opts.Tmpdir)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, err := newEC2Publisher(ctx)
	if err != nil {
		return err
	}

	imageID, err := publisher.Publish(ctx, prov, imagePath)
	if err != nil {
		return err
	}
	fmt.Println(imageID)

	if opts.Stack == "" {
		return nil
	}
	return publisher.UpdateDeploymentStack(ctx, opts.Stack, opts.StackParameter, imageID)
}
