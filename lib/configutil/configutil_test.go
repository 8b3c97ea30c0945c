package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type serviceConfig struct {
	Server  string  `json:"server" yaml:"server"`
	Timeout float64 `json:"timeout" yaml:"timeout"`
}

type testConfig struct {
	Name     string                   `json:"name" yaml:"name"`
	Services map[string]serviceConfig `json:"services" yaml:"services"`
}

func write(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "astroquery.json5"), `{
  // shared defaults
  name: "default",
  services: {
    simbad: { server: "https://simbad.example.org/tap/sync", timeout: 60 },
  },
}`)
	write(t, filepath.Join(dir, "astroquery.local.json5"), `{
  services: {
    simbad: { timeout: 5 },
    gaia: { server: "https://gaia.example.org/tap/sync" },
  },
}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "astroquery.json5"))
	require.NoError(t, err)

	require.Equal(t, "default", config.Name)
	require.Equal(t, 5.0, config.Services["simbad"].Timeout)
	require.Empty(t, cmp.Diff(
		serviceConfig{Server: "https://gaia.example.org/tap/sync"},
		config.Services["gaia"],
	))
}

func TestReadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "astroquery.yaml"), `
name: from-yaml
services:
  ned:
    server: https://ned.example.org/tap/sync
    timeout: 30
`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "astroquery.yaml"))
	require.NoError(t, err)
	require.Equal(t, "from-yaml", config.Name)
	require.Equal(t, 30.0, config.Services["ned"].Timeout)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "astroquery.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "astroquery.json5"), `{ name: `)
	_, err := ReadConfig[testConfig](filepath.Join(dir, "astroquery.json5"))
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}

func TestReadRecursively(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	write(t, filepath.Join(root, "astroquery.yaml"), "name: parent\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { os.Chdir(wd) })

	config, name, err := ReadFirst[testConfig]("astroquery.json5", "astroquery.yaml")
	require.NoError(t, err)
	require.Equal(t, "astroquery.yaml", name)
	require.Equal(t, "parent", config.Name)
}
