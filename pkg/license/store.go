package license

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spellrun/spell/pkg/fsutil"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/trust"
)

// Record is the persisted license at licenses/<base64url(name)>.json.
type Record struct {
	Name            string     `json:"name"`
	Token           string     `json:"token"`
	Claims          Claims     `json:"claims"`
	Revoked         bool       `json:"revoked,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokeReason    string     `json:"revoke_reason,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// Store persists named licenses under a directory.
type Store struct {
	dir string
}

// NewStore creates a license store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(name))+".json")
}

// Add verifies and stores a raw token under a name.
func (s *Store) Add(name, raw string, trustStore *trust.Store) (*Record, error) {
	tok, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Verify(tok, trustStore, time.Now()); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &Record{Name: name, Token: raw, Claims: tok.Claims, LastValidatedAt: &now}
	if err := s.save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads a license by name, or (nil, nil) when absent.
func (s *Store) Get(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("license: read %s: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("license: parse %s: %w", name, err)
	}
	return &rec, nil
}

// List returns all stored licenses sorted by name.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("license: read dir: %w", err)
	}
	var out []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		nameBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		rec, err := s.Get(string(nameBytes))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Remove deletes a license.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("license: remove %s: %w", name, err)
	}
	return nil
}

// Revoke marks a license revoked. The billing gate honours this flag
// independently of token expiry.
func (s *Store) Revoke(name, reason string) error {
	rec, err := s.mustGet(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.Revoked = true
	rec.RevokedAt = &now
	rec.RevokeReason = reason
	return s.save(rec)
}

// Restore clears a license revocation.
func (s *Store) Restore(name string) error {
	rec, err := s.mustGet(name)
	if err != nil {
		return err
	}
	rec.Revoked = false
	rec.RevokedAt = nil
	rec.RevokeReason = ""
	return s.save(rec)
}

// FindMatching returns the first stored license that satisfies the
// manifest's billing contract, or nil when none matches.
func (s *Store) FindMatching(billing manifest.Billing, now time.Time) (*Record, error) {
	if !billing.Enabled {
		return nil, nil
	}
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Matches(billing, now) {
			return rec, nil
		}
	}
	return nil, nil
}

// Matches reports whether this license authorizes the given billing
// contract: active, inside its window, same mode, same currency
// (case-insensitive), and a max_amount covering the manifest's.
func (r *Record) Matches(billing manifest.Billing, now time.Time) bool {
	if !billing.Enabled || r.Revoked {
		return false
	}
	if now.Before(r.Claims.NotBefore) || now.After(r.Claims.ExpiresAt) {
		return false
	}
	if r.Claims.Mode != billing.Mode {
		return false
	}
	if !strings.EqualFold(r.Claims.Currency, billing.Currency) {
		return false
	}
	return r.Claims.MaxAmount >= billing.MaxAmount
}

func (s *Store) mustGet(name string) (*Record, error) {
	rec, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("license: unknown license %q", name)
	}
	return rec, nil
}

func (s *Store) save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("license: marshal %s: %w", rec.Name, err)
	}
	return fsutil.WriteFileAtomic(s.path(rec.Name), data, 0o600)
}
