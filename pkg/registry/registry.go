// Package registry manages the registry index (registry.json): named
// bundle sources and the pin requirements enforced on resolution.
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spellrun/spell/pkg/fsutil"
)

// Pin requirement modes for SPELL_REGISTRY_REQUIRED_PINS.
const (
	PinsNone   = "none"
	PinsCommit = "commit"
	PinsDigest = "digest"
	PinsBoth   = "both"
)

// Entry is one named source in the index.
type Entry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Commit string `json:"commit,omitempty"`
	Digest string `json:"digest,omitempty"`
}

// Registry is the persisted registry.json document.
type Registry struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Load reads registry.json; a missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Version: "v1"}, nil
		}
		return nil, fmt.Errorf("registry: read: %w", err)
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("registry: parse: %w", err)
	}
	return &r, nil
}

// Save writes the registry atomically.
func Save(path string, r *Registry) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// Validate checks the structural invariants of the index.
func (r *Registry) Validate() error {
	if r.Version != "v1" {
		return fmt.Errorf("registry: unsupported version %q", r.Version)
	}
	seen := make(map[string]bool, len(r.Entries))
	for _, e := range r.Entries {
		if e.Name == "" || e.URL == "" {
			return fmt.Errorf("registry: entries require name and url")
		}
		if seen[e.Name] {
			return fmt.Errorf("registry: duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// Find returns the named entry, or nil.
func (r *Registry) Find(name string) *Entry {
	for i := range r.Entries {
		if r.Entries[i].Name == name {
			return &r.Entries[i]
		}
	}
	return nil
}

// Add inserts or replaces an entry.
func (r *Registry) Add(e Entry) {
	if existing := r.Find(e.Name); existing != nil {
		*existing = e
		return
	}
	r.Entries = append(r.Entries, e)
}

// Remove deletes an entry by name.
func (r *Registry) Remove(name string) bool {
	for i := range r.Entries {
		if r.Entries[i].Name == name {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve returns the named entry after enforcing the pin requirement.
func (r *Registry) Resolve(name, requiredPins string) (*Entry, error) {
	e := r.Find(name)
	if e == nil {
		return nil, fmt.Errorf("registry: unknown entry %q", name)
	}
	needCommit := requiredPins == PinsCommit || requiredPins == PinsBoth
	needDigest := requiredPins == PinsDigest || requiredPins == PinsBoth
	if needCommit && e.Commit == "" {
		return nil, fmt.Errorf("registry: entry %q requires a commit pin", name)
	}
	if needDigest && e.Digest == "" {
		return nil, fmt.Errorf("registry: entry %q requires a digest pin", name)
	}
	return e, nil
}
