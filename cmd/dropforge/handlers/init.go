package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/dropforge/dropforge/internal/config"
)

// Factory function variables for init - can be replaced in tests.
var (
	// fileExists checks if a file exists.
	fileExists = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	// runWizard runs the interactive manifest wizard.
	runWizard = config.RunWizard

	// writeManifest writes the manifest to a file.
	writeManifest = config.WriteYAML
)

// Init runs the manifest wizard and writes the result to a file.
func Init(ctx context.Context, outputPath string) error {
	if fileExists(outputPath) {
		fmt.Printf("Warning: %s already exists and will be overwritten.\n\n", outputPath)
	}

	manifest, err := runWizard(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	if err := writeManifest(manifest, outputPath); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	printInitSuccess(outputPath, manifest)
	return nil
}

// printInitSuccess prints the summary and next steps.
func printInitSuccess(outputPath string, m *config.Manifest) {
	fmt.Println()
	fmt.Println("Manifest saved!")
	fmt.Println()
	fmt.Printf("  File: %s\n", outputPath)
	fmt.Println()
	fmt.Println("Service Summary")
	fmt.Println("---------------")
	fmt.Printf("  Name:     %s\n", m.Name)
	fmt.Printf("  Hostname: %s\n", m.Hostname)
	fmt.Printf("  Port:     %d\n", m.Port)
	fmt.Println()
	fmt.Println("Next Steps")
	fmt.Println("----------")
	fmt.Println("  1. Build an image around your service binary:")
	fmt.Println("     dropforge build --output image.img ./path/to/binary")
	fmt.Println()
	fmt.Println("  2. Or publish it straight to a cloud:")
	fmt.Println("     dropforge create-ec2-image ./path/to/binary")
	fmt.Println()
}
