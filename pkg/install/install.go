// Package install manages the on-disk store of installed bundles under
// spells/<idKey>/<version>/ and the local-directory install source. Git,
// OCI and registry-index sources are external collaborators behind the
// SourceHandler interface.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/spellrun/spell/pkg/fsutil"
	"github.com/spellrun/spell/pkg/manifest"
)

// Source records install provenance in source.json.
type Source struct {
	Type        string    `json:"type"` // local | git | oci | registry
	Ref         string    `json:"ref,omitempty"`
	Commit      string    `json:"commit,omitempty"`
	ImageDigest string    `json:"image_digest,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// SourceHandler fetches a bundle working tree for a given source ref.
// Implementations for git clone, OCI pull and registry resolution live
// outside this module.
type SourceHandler interface {
	Fetch(ctx context.Context, ref string) (dir string, prov Source, err error)
}

// InstalledBundle is a resolved, on-disk bundle.
type InstalledBundle struct {
	Manifest *manifest.Manifest
	Path     string
	Source   *Source
}

// Store reads and writes the installed bundle tree.
type Store struct {
	dir string
}

// NewStore creates an installed-bundle store rooted at the spells dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// IDKey maps a slashed bundle id onto a single path segment.
func IDKey(id string) string {
	return strings.ReplaceAll(id, "/", "__")
}

// BundlePath returns the install root for id@version.
func (s *Store) BundlePath(id, version string) string {
	return filepath.Join(s.dir, IDKey(id), version)
}

// InstallLocal copies a bundle directory into the store and records its
// provenance. Installed bundles are never mutated afterwards.
func (s *Store) InstallLocal(srcDir string) (*InstalledBundle, error) {
	m, err := manifest.Load(filepath.Join(srcDir, "spell.yaml"))
	if err != nil {
		return nil, err
	}
	dest := s.BundlePath(m.ID, m.Version)
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("install: clear %s: %w", dest, err)
	}
	if err := copyTree(srcDir, dest); err != nil {
		return nil, err
	}

	prov := Source{Type: "local", Ref: srcDir, InstalledAt: time.Now().UTC()}
	data, err := json.MarshalIndent(prov, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("install: marshal source: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dest, "source.json"), data, 0o644); err != nil {
		return nil, err
	}
	return &InstalledBundle{Manifest: m, Path: dest, Source: &prov}, nil
}

// Resolve loads an installed bundle. An empty version selects the highest
// installed semver.
func (s *Store) Resolve(id, version string) (*InstalledBundle, error) {
	if version == "" {
		latest, err := s.latestVersion(id)
		if err != nil {
			return nil, err
		}
		version = latest
	}
	path := s.BundlePath(id, version)
	m, err := manifest.Load(filepath.Join(path, "spell.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("install: %s@%s is not installed", id, version)
		}
		return nil, err
	}

	bundle := &InstalledBundle{Manifest: m, Path: path}
	if data, err := os.ReadFile(filepath.Join(path, "source.json")); err == nil {
		var prov Source
		if json.Unmarshal(data, &prov) == nil {
			bundle.Source = &prov
		}
	}
	return bundle, nil
}

// List returns every installed bundle, ordered by id then version.
func (s *Store) List() ([]*InstalledBundle, error) {
	ids, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("install: read dir: %w", err)
	}

	var out []*InstalledBundle
	for _, idEntry := range ids {
		if !idEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(s.dir, idEntry.Name()))
		if err != nil {
			continue
		}
		for _, vEntry := range versions {
			if !vEntry.IsDir() {
				continue
			}
			id := strings.ReplaceAll(idEntry.Name(), "__", "/")
			b, err := s.Resolve(id, vEntry.Name())
			if err != nil {
				continue
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Manifest.ID != out[j].Manifest.ID {
			return out[i].Manifest.ID < out[j].Manifest.ID
		}
		return out[i].Manifest.Version < out[j].Manifest.Version
	})
	return out, nil
}

func (s *Store) latestVersion(id string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, IDKey(id)))
	if err != nil {
		return "", fmt.Errorf("install: %s is not installed", id)
	}
	var versions semver.Collection
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := semver.NewVersion(e.Name()); err == nil {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("install: %s has no installed versions", id)
	}
	sort.Sort(versions)
	return versions[len(versions)-1].Original(), nil
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("install: symlink not allowed: %s", rel)
		}
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
