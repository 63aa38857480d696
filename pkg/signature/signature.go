// Package signature produces and verifies spell.sig.json: an Ed25519
// signature over the raw canonical bundle digest, bound to a publisher key
// from the trust store. Verification is fail-closed: any unexpected error
// degrades to a non-verified status.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spellrun/spell/pkg/digest"
	"github.com/spellrun/spell/pkg/fsutil"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/trust"
)

// Verification statuses.
const (
	StatusSkipped   = "skipped"
	StatusVerified  = "verified"
	StatusUnsigned  = "unsigned"
	StatusUntrusted = "untrusted"
	StatusInvalid   = "invalid"
)

// DigestRef pins the digest the signature covers.
type DigestRef struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// File is the spell.sig.json wire format. Signature is base64url over the
// raw digest bytes.
type File struct {
	Version   string    `json:"version"`
	Publisher string    `json:"publisher"`
	KeyID     string    `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	Digest    DigestRef `json:"digest"`
	Signature string    `json:"signature"`
}

// Result is the outcome of a verification.
type Result struct {
	Status    string `json:"status"`
	Publisher string `json:"publisher,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Verified reports whether the bundle passed full verification.
func (r Result) Verified() bool { return r.Status == StatusVerified }

// Verify checks the bundle signature against the trust store per the
// fixed procedure: presence, publisher binding, trust lookup, key status,
// digest recomputation, Ed25519 verification.
func Verify(m *manifest.Manifest, bundlePath string, store *trust.Store) Result {
	sigPath := filepath.Join(bundlePath, digest.SignatureFileName)
	data, err := os.ReadFile(sigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusUnsigned, Message: "bundle is not signed"}
		}
		return Result{Status: StatusInvalid, Message: fmt.Sprintf("read signature: %v", err)}
	}

	var sig File
	if err := json.Unmarshal(data, &sig); err != nil {
		return Result{Status: StatusInvalid, Message: fmt.Sprintf("parse signature: %v", err)}
	}
	if sig.Version != "v1" {
		return Result{Status: StatusInvalid, Message: fmt.Sprintf("unsupported signature version %q", sig.Version)}
	}

	publisher := m.Publisher()
	if sig.Publisher != publisher {
		return Result{
			Status:    StatusInvalid,
			Publisher: sig.Publisher,
			Message:   fmt.Sprintf("signature publisher %q does not match bundle publisher %q", sig.Publisher, publisher),
		}
	}

	t, err := store.Load(publisher)
	if err != nil {
		return Result{Status: StatusUntrusted, Publisher: publisher, Message: err.Error()}
	}
	if t == nil {
		return Result{Status: StatusUntrusted, Publisher: publisher, Message: fmt.Sprintf("publisher %q is not trusted", publisher)}
	}

	key := t.FindKey(sig.KeyID)
	if key == nil {
		return Result{
			Status:    StatusUntrusted,
			Publisher: publisher,
			KeyID:     sig.KeyID,
			Message:   fmt.Sprintf("key %q is not trusted for publisher %q", sig.KeyID, publisher),
		}
	}
	if key.Revoked {
		return Result{
			Status:    StatusInvalid,
			Publisher: publisher,
			KeyID:     sig.KeyID,
			Message:   fmt.Sprintf("key %q is revoked: %s", sig.KeyID, key.RevokeReason),
		}
	}

	d, err := digest.Compute(bundlePath)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: publisher, KeyID: sig.KeyID, Message: err.Error()}
	}
	if sig.Digest.Algorithm != digest.Algorithm || sig.Digest.Value != d.Hex {
		return Result{
			Status:    StatusInvalid,
			Publisher: publisher,
			KeyID:     sig.KeyID,
			Digest:    d.Hex,
			Message:   "bundle digest does not match signature",
		}
	}

	pub, err := trust.DecodePublicKey(key.PublicKey)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: publisher, KeyID: sig.KeyID, Message: err.Error()}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: publisher, KeyID: sig.KeyID, Message: "signature is not base64url"}
	}
	if !ed25519.Verify(pub, d.Raw, sigBytes) {
		return Result{
			Status:    StatusInvalid,
			Publisher: publisher,
			KeyID:     sig.KeyID,
			Digest:    d.Hex,
			Message:   "ed25519 signature verification failed",
		}
	}

	return Result{Status: StatusVerified, Publisher: publisher, KeyID: sig.KeyID, Digest: d.Hex}
}

// KeyPair is the on-disk signing key produced by `spell sign keygen`.
type KeyPair struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"`  // base64url SPKI DER
	PrivateKey string `json:"private_key"` // base64url PKCS8 DER
}

// GenerateKeyPair creates a fresh Ed25519 signing key.
func GenerateKeyPair(keyID string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: key generation failed: %w", err)
	}
	pubEnc, err := trust.EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signature: marshal private key: %w", err)
	}
	return &KeyPair{
		KeyID:      keyID,
		Algorithm:  trust.AlgorithmEd25519,
		PublicKey:  pubEnc,
		PrivateKey: base64.RawURLEncoding.EncodeToString(privDER),
	}, nil
}

// LoadKeyPair reads a key pair file written by GenerateKeyPair.
func LoadKeyPair(path string) (*KeyPair, ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: read key file: %w", err)
	}
	var kp KeyPair
	if err := json.Unmarshal(data, &kp); err != nil {
		return nil, nil, fmt.Errorf("signature: parse key file: %w", err)
	}
	der, err := base64.RawURLEncoding.DecodeString(kp.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: private key is not base64url: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: private key is not PKCS8: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("signature: private key is not ed25519 (got %T)", parsed)
	}
	return &kp, priv, nil
}

// SignBundle computes the bundle digest and writes spell.sig.json.
func SignBundle(bundlePath, publisher string, kp *KeyPair, priv ed25519.PrivateKey) (*File, error) {
	d, err := digest.Compute(bundlePath)
	if err != nil {
		return nil, err
	}
	sig := &File{
		Version:   "v1",
		Publisher: publisher,
		KeyID:     kp.KeyID,
		Algorithm: trust.AlgorithmEd25519,
		Digest:    DigestRef{Algorithm: d.Algorithm, Value: d.Hex},
		Signature: base64.RawURLEncoding.EncodeToString(ed25519.Sign(priv, d.Raw)),
	}
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("signature: marshal: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(bundlePath, digest.SignatureFileName), data, 0o644); err != nil {
		return nil, err
	}
	return sig, nil
}
