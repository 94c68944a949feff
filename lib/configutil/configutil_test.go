package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Retries int               `json:"retries" yaml:"retries"`
	Exams   map[string]string `json:"exams" yaml:"exams"`
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestReadConfigJSON5WithLocalOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.json5"), `{
		// comments and trailing commas are fine
		name: "base",
		retries: 3,
		exams: {a: "1"},
	}`)
	writeFile(t, filepath.Join(dir, "app.local.json5"), `{retries: 7, exams: {b: "2"}}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.json5"))
	require.NoError(t, err)
	require.Equal(t, "base", cfg.Name)
	require.Equal(t, 7, cfg.Retries)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, cfg.Exams)
}

func TestReadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.yaml"), "name: yaml\nretries: 2\n")

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.yaml"))
	require.NoError(t, err)
	require.Equal(t, "yaml", cfg.Name)
	require.Equal(t, 2, cfg.Retries)
}

func TestReadConfigNotFound(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "missing.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadConfigOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.local.json5"), `{name: "local"}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.json5"))
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Name)
}

func TestSplitExt(t *testing.T) {
	table := []struct {
		input  string
		prefix string
		ext    string
	}{
		{input: "telemetry.json5", prefix: "telemetry", ext: "json5"},
		{input: "a.b.yaml", prefix: "a.b", ext: "yaml"},
		{input: "noext", prefix: "noext", ext: ""},
	}
	for _, row := range table {
		prefix, ext := splitExt(row.input)
		require.Equal(t, row.prefix, prefix)
		require.Equal(t, row.ext, ext)
	}
}
