package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func baseFiles() map[string]string {
	return map[string]string{
		"spell.yaml":      "id: acme/hello\nversion: 1.0.0\n",
		"schema.json":     `{"type":"object"}`,
		"steps/run.sh":    "#!/bin/sh\necho hi\n",
		"steps/sub/x.txt": "nested",
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := writeBundle(t, baseFiles())
	b := writeBundle(t, baseFiles())

	da, err := Compute(a)
	require.NoError(t, err)
	db, err := Compute(b)
	require.NoError(t, err)

	assert.Equal(t, da.Hex, db.Hex)
	assert.Equal(t, Algorithm, da.Algorithm)
	assert.Len(t, da.Raw, 32)
}

func TestComputeContentSensitive(t *testing.T) {
	files := baseFiles()
	a := writeBundle(t, files)
	files["steps/run.sh"] = "#!/bin/sh\necho changed\n"
	b := writeBundle(t, files)

	da, err := Compute(a)
	require.NoError(t, err)
	db, err := Compute(b)
	require.NoError(t, err)
	assert.NotEqual(t, da.Hex, db.Hex)
}

func TestComputePathSensitive(t *testing.T) {
	files := baseFiles()
	a := writeBundle(t, files)
	delete(files, "steps/sub/x.txt")
	files["steps/sub/y.txt"] = "nested"
	b := writeBundle(t, files)

	da, err := Compute(a)
	require.NoError(t, err)
	db, err := Compute(b)
	require.NoError(t, err)
	assert.NotEqual(t, da.Hex, db.Hex)
}

func TestComputeIgnoresSignatureFile(t *testing.T) {
	a := writeBundle(t, baseFiles())
	da, err := Compute(a)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(a, SignatureFileName), []byte(`{"version":"v1"}`), 0o644))
	db, err := Compute(a)
	require.NoError(t, err)
	assert.Equal(t, da.Hex, db.Hex)
}

func TestComputeRejectsSymlinks(t *testing.T) {
	dir := writeBundle(t, baseFiles())
	require.NoError(t, os.Symlink("/etc/hosts", filepath.Join(dir, "steps", "link")))

	_, err := Compute(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}
