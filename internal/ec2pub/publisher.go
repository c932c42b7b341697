package ec2pub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ebs"
	ebstypes "github.com/aws/aws-sdk-go-v2/service/ebs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/dropforge/dropforge/internal/naming"
	"github.com/dropforge/dropforge/internal/nixos"
	"github.com/dropforge/dropforge/internal/retry"
)

const (
	// snapshotBlockSize is the fixed block size of the EBS direct APIs.
	snapshotBlockSize = 512 * 1024

	gib = 1 << 30

	// tagPrefix namespaces the provenance tags attached to snapshots
	// and images.
	tagPrefix = "dropforge:"

	// DefaultStackParameterKey is the stack parameter that receives the
	// new image ID unless configured otherwise.
	DefaultStackParameterKey = "ImageId"
)

// ErrNoImageID means ec2:RegisterImage succeeded but returned no image
// ID, which the API contract does not allow.
var ErrNoImageID = errors.New("no image ID in ec2:RegisterImage response")

// Publisher uploads a raw disk image as an EBS snapshot and registers
// an AMI from it. Publishing is idempotent on the image name, which
// encodes the build's store hash.
type Publisher struct {
	ebs EBSClient
	ec2 EC2Client
	cfn CFNClient

	snapshotPollInterval time.Duration
	snapshotPollAttempts int
	stackPollInterval    time.Duration
	stackPollAttempts    int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSnapshotPoll overrides the snapshot completion polling cadence.
func WithSnapshotPoll(interval time.Duration, attempts int) Option {
	return func(p *Publisher) {
		p.snapshotPollInterval = interval
		p.snapshotPollAttempts = attempts
	}
}

// WithStackPoll overrides the stack rollout polling cadence.
func WithStackPoll(interval time.Duration, attempts int) Option {
	return func(p *Publisher) {
		p.stackPollInterval = interval
		p.stackPollAttempts = attempts
	}
}

// New returns a Publisher using the given service clients.
func New(clients Clients, opts ...Option) *Publisher {
	p := &Publisher{
		ebs:                  clients.EBS,
		ec2:                  clients.EC2,
		cfn:                  clients.CFN,
		snapshotPollInterval: 15 * time.Second,
		snapshotPollAttempts: 240,
		stackPollInterval:    15 * time.Second,
		stackPollAttempts:    60,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish registers imagePath as an AMI named after the build's
// provenance and returns the image ID. If an image of that name already
// exists it is returned as-is without uploading anything.
func (p *Publisher) Publish(ctx context.Context, prov *nixos.Provenance, imagePath string) (string, error) {
	imageName := naming.Image(prov.PackageName, prov.StoreHash)
	log.Printf("image name: %s", imageName)

	existing, err := p.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"self"},
		Filters: []ec2types.Filter{{
			Name:   aws.String("name"),
			Values: []string{imageName},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("describing images: %w", err)
	}
	if len(existing.Images) > 0 && existing.Images[0].ImageId != nil {
		log.Printf("image already registered")
		return *existing.Images[0].ImageId, nil
	}

	tags := provenanceTags(prov)

	log.Printf("uploading EC2 snapshot")
	snapshotID, err := p.uploadSnapshot(ctx, imagePath, imageName, tags)
	if err != nil {
		return "", fmt.Errorf("uploading snapshot: %w", err)
	}
	log.Printf("uploaded EC2 snapshot ID %s", snapshotID)

	if err := p.waitSnapshot(ctx, snapshotID); err != nil {
		return "", fmt.Errorf("waiting for snapshot %s: %w", snapshotID, err)
	}

	log.Printf("registering image")
	registered, err := p.ec2.RegisterImage(ctx, &ec2.RegisterImageInput{
		Name:               aws.String(imageName),
		VirtualizationType: aws.String("hvm"),
		Architecture:       ec2types.ArchitectureValuesX8664,
		BootMode:           ec2types.BootModeValuesUefi,
		EnaSupport:         aws.Bool(true),
		SriovNetSupport:    aws.String("simple"),
		ImdsSupport:        ec2types.ImdsSupportValuesV20,
		RootDeviceName:     aws.String("/dev/xvda"),
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/xvda"),
			Ebs: &ec2types.EbsBlockDevice{
				SnapshotId:          aws.String(snapshotID),
				VolumeSize:          aws.Int32(2),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("registering image: %w", err)
	}
	if registered.ImageId == nil {
		return "", ErrNoImageID
	}
	imageID := *registered.ImageId

	ec2Tags := make([]ec2types.Tag, len(tags))
	for i, t := range tags {
		ec2Tags[i] = ec2types.Tag{Key: aws.String(t.key), Value: aws.String(t.value)}
	}
	if _, err := p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{imageID},
		Tags:      ec2Tags,
	}); err != nil {
		return "", fmt.Errorf("tagging image %s: %w", imageID, err)
	}

	return imageID, nil
}

// uploadSnapshot streams the file through the EBS direct APIs. Every
// block is uploaded, zero blocks included: a snapshot restored from
// this upload must read back zeros where the file had them.
func (p *Publisher) uploadSnapshot(ctx context.Context, path, description string, tags []kv) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	volumeSize := (info.Size() + gib - 1) / gib
	if volumeSize < 1 {
		volumeSize = 1
	}

	ebsTags := make([]ebstypes.Tag, len(tags))
	for i, t := range tags {
		ebsTags[i] = ebstypes.Tag{Key: aws.String(t.key), Value: aws.String(t.value)}
	}

	started, err := p.ebs.StartSnapshot(ctx, &ebs.StartSnapshotInput{
		VolumeSize:  aws.Int64(volumeSize),
		Description: aws.String(description),
		Tags:        ebsTags,
	})
	if err != nil {
		return "", fmt.Errorf("starting snapshot: %w", err)
	}
	if started.SnapshotId == nil {
		return "", errors.New("no snapshot ID in ebs:StartSnapshot response")
	}
	snapshotID := *started.SnapshotId

	block := make([]byte, snapshotBlockSize)
	var blockCount int32
	for index := int32(0); ; index++ {
		n, err := io.ReadFull(f, block)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("reading block %d: %w", index, err)
		}
		// Short final reads are padded; EBS only accepts full blocks.
		for i := n; i < snapshotBlockSize; i++ {
			block[i] = 0
		}

		sum := sha256.Sum256(block)
		if _, err := p.ebs.PutSnapshotBlock(ctx, &ebs.PutSnapshotBlockInput{
			SnapshotId:        aws.String(snapshotID),
			BlockIndex:        aws.Int32(index),
			BlockData:         bytes.NewReader(block),
			DataLength:        aws.Int32(snapshotBlockSize),
			Checksum:          aws.String(base64.StdEncoding.EncodeToString(sum[:])),
			ChecksumAlgorithm: ebstypes.ChecksumAlgorithmChecksumAlgorithmSha256,
		}); err != nil {
			return "", fmt.Errorf("uploading block %d: %w", index, err)
		}
		blockCount++
	}

	if _, err := p.ebs.CompleteSnapshot(ctx, &ebs.CompleteSnapshotInput{
		SnapshotId:         aws.String(snapshotID),
		ChangedBlocksCount: aws.Int32(blockCount),
	}); err != nil {
		return "", fmt.Errorf("completing snapshot: %w", err)
	}
	return snapshotID, nil
}

// waitSnapshot polls until the snapshot leaves the pending state.
func (p *Publisher) waitSnapshot(ctx context.Context, snapshotID string) error {
	return retry.Poll(ctx, p.snapshotPollInterval, p.snapshotPollAttempts, func(ctx context.Context) (bool, error) {
		out, err := p.ec2.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			SnapshotIds: []string{snapshotID},
		})
		if err != nil {
			return false, err
		}
		if len(out.Snapshots) == 0 {
			return false, fmt.Errorf("snapshot %s not found", snapshotID)
		}
		snap := out.Snapshots[0]
		switch snap.State {
		case ec2types.SnapshotStateCompleted:
			return true, nil
		case ec2types.SnapshotStateError:
			return false, fmt.Errorf("snapshot entered error state: %s", aws.ToString(snap.StateMessage))
		default:
			return false, nil
		}
	})
}

// UpdateDeploymentStack points an existing CloudFormation stack at the
// new image by updating a single parameter, then polls the rollout to a
// terminal state. A stack already running the image is a success, not
// an error.
func (p *Publisher) UpdateDeploymentStack(ctx context.Context, stackName, parameterKey, imageID string) error {
	if parameterKey == "" {
		parameterKey = DefaultStackParameterKey
	}
	log.Printf("updating stack %s: %s=%s", stackName, parameterKey, imageID)
	_, err := p.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:           aws.String(stackName),
		UsePreviousTemplate: aws.Bool(true),
		Parameters: []cfntypes.Parameter{{
			ParameterKey:   aws.String(parameterKey),
			ParameterValue: aws.String(imageID),
		}},
	})
	if err != nil {
		if isNoUpdatesError(err) {
			log.Printf("stack %s already up to date", stackName)
			return nil
		}
		return fmt.Errorf("updating stack %s: %w", stackName, err)
	}

	return retry.Poll(ctx, p.stackPollInterval, p.stackPollAttempts, func(ctx context.Context) (bool, error) {
		out, err := p.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
			StackName: aws.String(stackName),
		})
		if err != nil {
			return false, err
		}
		if len(out.Stacks) == 0 {
			return false, fmt.Errorf("stack %s not found", stackName)
		}
		status := out.Stacks[0].StackStatus
		switch status {
		case cfntypes.StackStatusUpdateComplete:
			return true, nil
		case cfntypes.StackStatusUpdateFailed,
			cfntypes.StackStatusUpdateRollbackFailed,
			cfntypes.StackStatusUpdateRollbackComplete:
			return false, fmt.Errorf("stack update failed with status %s: %s",
				status, aws.ToString(out.Stacks[0].StackStatusReason))
		default:
			// Anything else, transitional or not, means the rollout is
			// still converging; the attempt ceiling is the backstop.
			return false, nil
		}
	})
}

// isNoUpdatesError recognizes CloudFormation's refusal to update a
// stack whose parameters already match.
func isNoUpdatesError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			apiErr.ErrorMessage() == "No updates are to be performed."
	}
	return false
}

type kv struct {
	key, value string
}

// provenanceTags flattens a build's provenance into namespaced tags,
// ordered deterministically.
func provenanceTags(prov *nixos.Provenance) []kv {
	tags := []kv{
		{tagPrefix + "package.name", prov.PackageName},
		{tagPrefix + "package.version", prov.PackageVersion},
		{tagPrefix + "store_hash", prov.StoreHash},
	}
	names := make([]string, 0, len(prov.Inputs))
	for name := range prov.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rev := prov.Inputs[name]
		tags = append(tags, kv{
			fmt.Sprintf("%sflake.%s.last_modified", tagPrefix, name),
			fmt.Sprintf("%d", rev.LastModified),
		})
		if rev.Rev != "" {
			tags = append(tags, kv{fmt.Sprintf("%sflake.%s.rev", tagPrefix, name), rev.Rev})
		}
	}
	return tags
}
