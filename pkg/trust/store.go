// Package trust implements the publisher trust store: the set of public
// keys the runtime accepts for bundle signature verification and
// entitlement issuance. Revoked keys are retained for audit but always
// fail verification.
package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spellrun/spell/pkg/fsutil"
)

// AlgorithmEd25519 is the only supported key algorithm.
const AlgorithmEd25519 = "ed25519"

// Key is one publisher key. PublicKey is the SPKI DER bytes, base64url.
// Legacy records may omit the revocation fields; they load as active.
type Key struct {
	KeyID        string     `json:"key_id"`
	Algorithm    string     `json:"algorithm"`
	PublicKey    string     `json:"public_key"`
	Revoked      bool       `json:"revoked,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Trust is the per-publisher record persisted at trust/<publisher>.json.
type Trust struct {
	Publisher string `json:"publisher"`
	Keys      []Key  `json:"keys"`
}

// FindKey returns the key with the given id, or nil.
func (t *Trust) FindKey(keyID string) *Key {
	for i := range t.Keys {
		if t.Keys[i].KeyID == keyID {
			return &t.Keys[i]
		}
	}
	return nil
}

// Store reads and writes per-publisher trust files.
type Store struct {
	dir string
}

// NewStore creates a trust store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(publisher string) string {
	return filepath.Join(s.dir, publisher+".json")
}

// Load returns the trust record for a publisher, or (nil, nil) when the
// publisher is unknown.
func (s *Store) Load(publisher string) (*Trust, error) {
	data, err := os.ReadFile(s.path(publisher))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("trust: read %s: %w", publisher, err)
	}
	var t Trust
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("trust: parse %s: %w", publisher, err)
	}
	if t.Publisher == "" {
		t.Publisher = publisher
	}
	return &t, nil
}

// Upsert adds or replaces a key for the publisher.
func (s *Store) Upsert(publisher string, key Key) error {
	if key.KeyID == "" {
		return fmt.Errorf("trust: key_id is required")
	}
	if key.Algorithm == "" {
		key.Algorithm = AlgorithmEd25519
	}
	if key.Algorithm != AlgorithmEd25519 {
		return fmt.Errorf("trust: unsupported algorithm %q", key.Algorithm)
	}
	if _, err := DecodePublicKey(key.PublicKey); err != nil {
		return err
	}

	t, err := s.Load(publisher)
	if err != nil {
		return err
	}
	if t == nil {
		t = &Trust{Publisher: publisher}
	}
	if existing := t.FindKey(key.KeyID); existing != nil {
		*existing = key
	} else {
		t.Keys = append(t.Keys, key)
	}
	return s.save(t)
}

// Revoke marks a key revoked with the given reason. The key is kept so
// past verifications remain auditable.
func (s *Store) Revoke(publisher, keyID, reason string) error {
	t, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	key := t.FindKey(keyID)
	if key == nil {
		return fmt.Errorf("trust: unknown key %s for publisher %s", keyID, publisher)
	}
	now := time.Now().UTC()
	key.Revoked = true
	key.RevokedAt = &now
	key.RevokeReason = reason
	return s.save(t)
}

// Restore clears a key's revocation.
func (s *Store) Restore(publisher, keyID string) error {
	t, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	key := t.FindKey(keyID)
	if key == nil {
		return fmt.Errorf("trust: unknown key %s for publisher %s", keyID, publisher)
	}
	key.Revoked = false
	key.RevokedAt = nil
	key.RevokeReason = ""
	return s.save(t)
}

// Remove deletes a key. Removing the last key deletes the publisher file.
func (s *Store) Remove(publisher, keyID string) error {
	t, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	kept := t.Keys[:0]
	found := false
	for _, k := range t.Keys {
		if k.KeyID == keyID {
			found = true
			continue
		}
		kept = append(kept, k)
	}
	if !found {
		return fmt.Errorf("trust: unknown key %s for publisher %s", keyID, publisher)
	}
	t.Keys = kept
	if len(t.Keys) == 0 {
		if err := os.Remove(s.path(publisher)); err != nil {
			return fmt.Errorf("trust: remove %s: %w", publisher, err)
		}
		return nil
	}
	return s.save(t)
}

// List returns all known publishers.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("trust: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, e.Name()[:len(e.Name())-len(".json")])
	}
	return out, nil
}

func (s *Store) mustLoad(publisher string) (*Trust, error) {
	t, err := s.Load(publisher)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("trust: unknown publisher %s", publisher)
	}
	return t, nil
}

func (s *Store) save(t *Trust) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshal %s: %w", t.Publisher, err)
	}
	return fsutil.WriteFileAtomic(s.path(t.Publisher), data, 0o600)
}

// EncodePublicKey encodes an Ed25519 public key as base64url SPKI DER.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("trust: marshal public key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(der), nil
}

// DecodePublicKey decodes a base64url SPKI DER Ed25519 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	der, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("trust: public key is not base64url: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("trust: public key is not SPKI DER: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("trust: public key is not ed25519 (got %T)", parsed)
	}
	return pub, nil
}

// Fingerprint returns a short hex fingerprint of the key's SPKI DER bytes,
// used by the trust list/inspect surfaces.
func Fingerprint(key Key) string {
	der, err := base64.RawURLEncoding.DecodeString(key.PublicKey)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8])
}
