// Package config defines the build manifest: the single versioned
// description of what to embed and configure in the built image.
package config

import "fmt"

// DefaultPort is the port the embedded service listens on unless the
// manifest says otherwise.
const DefaultPort = 8000

// Manifest describes the service to embed and its install-time
// configuration. It is serialized as the opaque input document handed to
// the external image builder, so field names here are wire names.
//
// The schema has accreted fields over time (bin target, dependency
// lists, cert staging, hostname, port); they all live in this one
// structure with documented defaults rather than in per-version types.
type Manifest struct {
	// Name identifies the service package. Required.
	Name string `yaml:"name" json:"name"`

	// Version is the service package version carried into provenance tags.
	Version string `yaml:"version" json:"version"`

	// Binary is the local path of the service binary to embed. It is
	// resolved by the CLI and never serialized for the builder.
	Binary string `yaml:"binary" json:"-"`

	// Hostname the service will respond to. Required.
	Hostname string `yaml:"hostname" json:"hostname"`

	// Port the service will listen on. Defaults to DefaultPort.
	Port int `yaml:"port" json:"port"`

	// Deps are package names that are runtime dependencies of the service.
	Deps []string `yaml:"deps" json:"deps,omitempty"`

	// BuildDeps are package names needed only while building the service.
	BuildDeps []string `yaml:"buildDeps" json:"buildDeps,omitempty"`

	// Install are packages installed into the system environment.
	Install []string `yaml:"install" json:"install,omitempty"`

	// EnvFile is an optional environment file for the service unit
	// (see EnvironmentFile in systemd.exec(5)).
	EnvFile string `yaml:"envFile" json:"envFile,omitempty"`

	// RunArgs are extra command line arguments for the service binary.
	RunArgs string `yaml:"runArgs" json:"runArgs,omitempty"`

	// AllowLogin enables SSH login via keys fetched by cloud-init.
	AllowLogin bool `yaml:"allowLogin" json:"allowLogin"`

	// TestCert requests certificates from the staging environment so
	// test builds do not consume production rate limits.
	TestCert bool `yaml:"testCert" json:"testCert"`

	// ShowNixTrace passes --show-trace to the image builder.
	ShowNixTrace bool `yaml:"showNixTrace" json:"-"`

	// BaseImage is the prepared base disk image consumed by the builder.
	// Set by the pipeline, not by configuration files.
	BaseImage string `yaml:"-" json:"baseImage,omitempty"`
}

// Validate checks the manifest for the input errors that must be
// reported before any work starts.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Hostname == "" {
		return fmt.Errorf("manifest: hostname is required")
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("manifest: port %d out of range", m.Port)
	}
	return nil
}
