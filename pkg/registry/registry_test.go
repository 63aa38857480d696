package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	assert.Equal(t, "v1", r.Version)
	assert.Empty(t, r.Entries)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r := &Registry{Version: "v1"}
	r.Add(Entry{Name: "main", URL: "https://example.com/bundles.git", Commit: "abc123", Digest: "sha256:def"})
	require.NoError(t, Save(path, r))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "main", loaded.Entries[0].Name)
	assert.Equal(t, "abc123", loaded.Entries[0].Commit)
}

func TestAddReplacesExisting(t *testing.T) {
	r := &Registry{Version: "v1"}
	r.Add(Entry{Name: "main", URL: "https://one.example"})
	r.Add(Entry{Name: "main", URL: "https://two.example"})

	require.Len(t, r.Entries, 1)
	assert.Equal(t, "https://two.example", r.Entries[0].URL)
}

func TestRemove(t *testing.T) {
	r := &Registry{Version: "v1"}
	r.Add(Entry{Name: "main", URL: "https://example.com"})

	assert.True(t, r.Remove("main"))
	assert.False(t, r.Remove("main"))
	assert.Empty(t, r.Entries)
}

func TestValidate(t *testing.T) {
	r := &Registry{Version: "v2"}
	assert.Error(t, r.Validate())

	r = &Registry{Version: "v1", Entries: []Entry{{Name: "", URL: "https://x"}}}
	assert.Error(t, r.Validate())

	r = &Registry{Version: "v1", Entries: []Entry{
		{Name: "a", URL: "https://x"},
		{Name: "a", URL: "https://y"},
	}}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	r = &Registry{Version: "v1", Entries: []Entry{{Name: "a", URL: "https://x"}}}
	assert.NoError(t, r.Validate())
}

func TestResolvePinRequirements(t *testing.T) {
	r := &Registry{Version: "v1"}
	r.Add(Entry{Name: "unpinned", URL: "https://x"})
	r.Add(Entry{Name: "commit-only", URL: "https://x", Commit: "abc"})
	r.Add(Entry{Name: "both", URL: "https://x", Commit: "abc", Digest: "sha256:def"})

	_, err := r.Resolve("missing", PinsNone)
	assert.Error(t, err)

	_, err = r.Resolve("unpinned", PinsNone)
	assert.NoError(t, err)

	_, err = r.Resolve("unpinned", PinsCommit)
	assert.Error(t, err)

	_, err = r.Resolve("commit-only", PinsCommit)
	assert.NoError(t, err)

	_, err = r.Resolve("commit-only", PinsBoth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest pin")

	e, err := r.Resolve("both", PinsBoth)
	require.NoError(t, err)
	assert.Equal(t, "both", e.Name)
}
