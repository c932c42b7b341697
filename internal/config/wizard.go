package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"
)

// RunWizard interactively assembles a manifest with sensible defaults.
func RunWizard(ctx context.Context) (*Manifest, error) {
	m := &Manifest{Port: DefaultPort}
	port := strconv.Itoa(DefaultPort)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Service name").
				Description("Names the image and its cloud resources (DNS-safe, lowercase)").
				Placeholder("my-service").
				Value(&m.Name).
				Validate(validateName),
			huh.NewInput().
				Title("Hostname").
				Description("Public hostname the HTTPS reverse proxy answers for").
				Placeholder("svc.example.com").
				Value(&m.Hostname).
				Validate(validateHostname),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Service port").
				Description("Local port the embedded service listens on").
				Value(&port).
				Validate(validatePortString),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Allow SSH login?").
				Description("Enables the SSH daemon in the built image").
				Value(&m.AllowLogin),
			huh.NewConfirm().
				Title("Use staging certificates?").
				Description("Requests TLS certificates from the staging CA; test builds should say yes").
				Value(&m.TestCert),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return nil, err
	}

	// Validated above; ignore the impossible parse error.
	m.Port, _ = strconv.Atoi(port)
	return m, nil
}

// WriteYAML saves a manifest as a YAML file.
func WriteYAML(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func validateName(s string) error {
	if s == "" {
		return fmt.Errorf("service name is required")
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return fmt.Errorf("service name can only contain lowercase letters, numbers, hyphens, and underscores")
		}
	}
	return nil
}

func validateHostname(s string) error {
	if s == "" {
		return fmt.Errorf("hostname is required")
	}
	if !strings.Contains(s, ".") {
		return fmt.Errorf("invalid hostname (expected svc.example.com)")
	}
	return nil
}

func validatePortString(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}
