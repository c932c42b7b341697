package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropforge/internal/nixos"
)

type fakeOxidePublisher struct {
	imageID     string
	publishedAt string
	deployed    []string
}

func (f *fakeOxidePublisher) Publish(_ context.Context, _ *nixos.Provenance, imagePath string) (string, error) {
	f.publishedAt = imagePath
	return f.imageID, nil
}

func (f *fakeOxidePublisher) Deploy(_ context.Context, _ *nixos.Provenance, imageID, hostname string) (string, error) {
	f.deployed = append(f.deployed, imageID+" "+hostname)
	return "instance-uuid", nil
}

func withFakeOxidePublisher(t *testing.T, pub *fakeOxidePublisher) (projects *[]string) {
	t.Helper()
	seen := []string{}
	orig := newOxidePublisher
	t.Cleanup(func() { newOxidePublisher = orig })
	newOxidePublisher = func(project string) (OxidePublisher, error) {
		seen = append(seen, project)
		return pub, nil
	}
	return &seen
}

func TestCreateOxideImage(t *testing.T) {
	withFakePipeline(t, &fakePipeline{image: []byte("image bits")})
	pub := &fakeOxidePublisher{imageID: "image-uuid"}
	projects := withFakeOxidePublisher(t, pub)

	err := CreateOxideImage(context.Background(), CreateOxideOptions{
		ServiceBinary: writeServiceBinary(t),
		Project:       "prod",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"prod"}, *projects)
	assert.NotEmpty(t, pub.publishedAt)
	assert.Empty(t, pub.deployed, "no instance without --deploy")
}

func TestCreateOxideImageDeploy(t *testing.T) {
	withFakePipeline(t, &fakePipeline{image: []byte("image bits")})
	pub := &fakeOxidePublisher{imageID: "image-uuid"}
	withFakeOxidePublisher(t, pub)

	err := CreateOxideImage(context.Background(), CreateOxideOptions{
		ServiceBinary: writeServiceBinary(t),
		Project:       "prod",
		Deploy:        true,
	})
	require.NoError(t, err)

	// The deployed instance answers for the manifest's hostname.
	assert.Equal(t, []string{"image-uuid b.example.com"}, pub.deployed)
}
