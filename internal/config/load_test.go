package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dropforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeManifest(t, `
name: beachball
version: 1.2.3
hostname: beachball.example.com
`)
	m, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "beachball", m.Name)
	assert.Equal(t, DefaultPort, m.Port)
	assert.False(t, m.AllowLogin)
}

func TestLoadFileFullManifest(t *testing.T) {
	path := writeManifest(t, `
name: beachball
version: 1.2.3
hostname: beachball.example.com
port: 4443
deps: [ffmpeg]
buildDeps: [pkg-config]
install: [vim]
envFile: /etc/beachball.env
runArgs: "--verbose"
allowLogin: true
testCert: true
showNixTrace: true
`)
	m, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4443, m.Port)
	assert.Equal(t, []string{"ffmpeg"}, m.Deps)
	assert.Equal(t, []string{"pkg-config"}, m.BuildDeps)
	assert.Equal(t, []string{"vim"}, m.Install)
	assert.Equal(t, "/etc/beachball.env", m.EnvFile)
	assert.Equal(t, "--verbose", m.RunArgs)
	assert.True(t, m.AllowLogin)
	assert.True(t, m.TestCert)
	assert.True(t, m.ShowNixTrace)
}

func TestLoadFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "hostname: a.example.com\n", "name is required"},
		{"missing hostname", "name: svc\n", "hostname is required"},
		{"bad port", "name: svc\nhostname: a.example.com\nport: 99999\n", "out of range"},
		{"malformed yaml", "name: [unclosed\n", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeManifest(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
