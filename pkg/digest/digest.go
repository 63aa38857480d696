// Package digest computes the canonical content digest of an installed
// spell bundle. The digest covers spell.yaml, schema.json and every regular
// file under steps/, and is the value bound by spell.sig.json.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DomainSeparator seeds the hash so bundle digests can never collide with
// other sha256 uses. The trailing NUL is part of the wire contract.
const DomainSeparator = "spell-bundle-v1\x00"

// Algorithm is the only supported digest algorithm.
const Algorithm = "sha256"

// Digest is the canonical bundle digest.
type Digest struct {
	Algorithm string
	Hex       string
	Raw       []byte
}

// SignatureFileName is excluded from the digest it signs.
const SignatureFileName = "spell.sig.json"

// Compute hashes the bundle rooted at dir. Entries are sorted by
// POSIX-normalized relative path; symlinks anywhere in the tree are
// rejected. Two identical trees produce identical digests on any platform.
func Compute(dir string) (*Digest, error) {
	entries, err := collect(dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	h := sha256.New()
	h.Write([]byte(DomainSeparator))
	for _, rel := range entries {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("digest: read %s: %w", rel, err)
		}
		h.Write([]byte("file\x00"))
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}

	raw := h.Sum(nil)
	return &Digest{Algorithm: Algorithm, Hex: hex.EncodeToString(raw), Raw: raw}, nil
}

// collect returns the digested file set as slash-separated relative paths:
// spell.yaml, schema.json, and all regular files under steps/.
func collect(dir string) ([]string, error) {
	var entries []string
	for _, name := range []string{"spell.yaml", "schema.json"} {
		path := filepath.Join(dir, name)
		info, err := os.Lstat(path)
		if err != nil {
			return nil, fmt.Errorf("digest: missing %s: %w", name, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("digest: symlink not allowed: %s", name)
		}
		entries = append(entries, name)
	}

	stepsDir := filepath.Join(dir, "steps")
	if _, err := os.Lstat(stepsDir); err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("digest: stat steps/: %w", err)
	}

	err := filepath.Walk(stepsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			rel, _ := filepath.Rel(dir, path)
			return fmt.Errorf("digest: symlink not allowed: %s", filepath.ToSlash(rel))
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if filepath.Base(rel) == SignatureFileName {
			return nil
		}
		if !strings.HasPrefix(rel, "steps/") {
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
