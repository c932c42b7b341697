// Package nixos drives the external declarative image builder and
// extracts build provenance from its content-addressed output.
package nixos

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/dropforge/dropforge/internal/config"
	"github.com/dropforge/dropforge/internal/execx"
	"github.com/dropforge/dropforge/internal/naming"
)

//go:embed flake.nix
var flakeNix []byte

//go:embed flake.lock
var flakeLock []byte

// ext4Image is an empty ext4 filesystem appended to built artifacts as
// the data partition. Mostly zero, so it sparse-copies to almost nothing.
//
//go:embed fs/ext4.gz
var ext4Image []byte

// refreshInputs are flake inputs whose lock entries are dropped before
// every build so the builder resolves them fresh. Pinning them would be
// reproducible but would also freeze security backports.
var refreshInputs = []string{"nixpkgs", "rust-overlay"}

// ErrShortStorePath means the builder's output path basename cannot
// carry a full store hash, which should be impossible for a healthy
// builder installation.
var ErrShortStorePath = errors.New("store path basename shorter than a store hash")

// InputRev records when an upstream flake input was last modified and,
// when available, at which revision it was locked.
type InputRev struct {
	LastModified int64  `json:"lastModified"`
	Rev          string `json:"rev,omitempty"`
}

// Provenance identifies a completed build. Immutable once produced; the
// publisher turns it into the image name and audit tags.
type Provenance struct {
	PackageName    string
	PackageVersion string

	// StoreHash is the first 32 characters of the content-addressed
	// store path, used as the idempotency token for publishing.
	StoreHash string

	// BuilderVersion is the contents of the version marker file in the
	// artifact directory.
	BuilderVersion string

	// Inputs maps each upstream flake input to its locked revision.
	Inputs map[string]InputRev
}

// Builder runs nix against the embedded flake and a manifest.
type Builder struct {
	runner   execx.Runner
	manifest *config.Manifest
}

// NewBuilder returns a Builder for the given manifest.
func NewBuilder(runner execx.Runner, manifest *config.Manifest) *Builder {
	return &Builder{runner: runner, manifest: manifest}
}

// Build writes the flake, the pruned lock file and the manifest into a
// scratch directory, runs the builder, streams the produced ISO into w,
// and returns the build's provenance.
func (b *Builder) Build(ctx context.Context, w io.Writer) (*Provenance, error) {
	tempdir, err := os.MkdirTemp("", "dropforge-nix-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempdir)

	lock, err := pruneFlakeLock(flakeLock)
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(b.manifest)
	if err != nil {
		return nil, fmt.Errorf("serializing manifest: %w", err)
	}
	for name, content := range map[string][]byte{
		"flake.nix":  flakeNix,
		"flake.lock": lock,
		"input.json": input,
	} {
		if err := os.WriteFile(filepath.Join(tempdir, name), content, 0o644); err != nil {
			return nil, err
		}
	}

	resultLink := filepath.Join(tempdir, "result")
	args := []string{
		"--extra-experimental-features", "nix-command",
		"--extra-experimental-features", "flakes",
		"build", "--impure",
	}
	if b.manifest.ShowNixTrace {
		args = append(args, "--show-trace")
	}
	args = append(args, "--out-link", resultLink,
		fmt.Sprintf("path:%s#nixosConfigurations.dropforge.config.system.build.isoImage", tempdir))

	log.Printf("building image")
	if err := b.runner.Run(ctx, &execx.Cmd{Name: "nix", Args: args}); err != nil {
		return nil, fmt.Errorf("nix build: %w", err)
	}

	storePath, err := resolveLink(resultLink)
	if err != nil {
		return nil, fmt.Errorf("reading result link: %w", err)
	}
	base := filepath.Base(storePath)
	if len(base) < naming.StoreHashLen {
		return nil, fmt.Errorf("%w: %s", ErrShortStorePath, base)
	}

	version, err := os.ReadFile(filepath.Join(storePath, "version.txt"))
	if err != nil {
		return nil, fmt.Errorf("reading version marker: %w", err)
	}

	iso, err := os.Open(filepath.Join(storePath, "iso", "nixos.iso"))
	if err != nil {
		return nil, fmt.Errorf("opening built image: %w", err)
	}
	defer iso.Close()
	if _, err := io.Copy(w, iso); err != nil {
		return nil, fmt.Errorf("copying built image: %w", err)
	}

	// The builder locks the refreshed inputs during the build; read the
	// record back so provenance reflects what actually went in.
	lockOut, err := os.ReadFile(filepath.Join(tempdir, "flake.lock"))
	if err != nil {
		return nil, fmt.Errorf("reading locked inputs: %w", err)
	}
	inputs, err := readLockedInputs(lockOut)
	if err != nil {
		return nil, err
	}

	return &Provenance{
		PackageName:    b.manifest.Name,
		PackageVersion: b.manifest.Version,
		StoreHash:      base[:naming.StoreHashLen],
		BuilderVersion: strings.TrimSpace(string(version)),
		Inputs:         inputs,
	}, nil
}

// DataFilesystem returns a reader over the embedded empty ext4 image.
func DataFilesystem() (io.ReadCloser, error) {
	return gzip.NewReader(bytes.NewReader(ext4Image))
}

// pruneFlakeLock removes the always-refresh inputs from the lock file,
// both their node entries and the root node's references to them, while
// leaving every other field untouched.
func pruneFlakeLock(data []byte) ([]byte, error) {
	var lock map[string]interface{}
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing flake.lock: %w", err)
	}
	nodes, ok := lock["nodes"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("flake.lock has no nodes")
	}
	rootName, ok := lock["root"].(string)
	if !ok {
		return nil, fmt.Errorf("flake.lock has no root")
	}
	root, ok := nodes[rootName].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("flake.lock has no root node")
	}
	inputs, _ := root["inputs"].(map[string]interface{})

	for _, name := range refreshInputs {
		delete(nodes, name)
		delete(inputs, name)
	}
	return json.MarshalIndent(lock, "", "  ")
}

// readLockedInputs extracts the locked-inputs record from a lock file.
func readLockedInputs(data []byte) (map[string]InputRev, error) {
	var lock struct {
		Nodes map[string]struct {
			Locked *InputRev `json:"locked"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing locked inputs: %w", err)
	}
	inputs := make(map[string]InputRev)
	for name, node := range lock.Nodes {
		if node.Locked != nil {
			inputs[name] = *node.Locked
		}
	}
	return inputs, nil
}

func resolveLink(link string) (string, error) {
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	return target, nil
}
