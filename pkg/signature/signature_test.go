package signature

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellrun/spell/pkg/digest"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/trust"
)

func writeTestBundle(t *testing.T, id string) (string, *manifest.Manifest) {
	t.Helper()
	dir := t.TempDir()
	yaml := "id: " + id + "\n" +
		"version: 1.0.0\n" +
		"name: hello\n" +
		"risk: low\n" +
		"runtime:\n  execution: host\n" +
		"steps:\n  - uses: shell\n    name: greet\n    run: steps/greet.sh\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spell.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "steps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "steps", "greet.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))

	m, err := manifest.Load(filepath.Join(dir, "spell.yaml"))
	require.NoError(t, err)
	return dir, m
}

func signedBundle(t *testing.T) (string, *manifest.Manifest, *trust.Store, *KeyPair) {
	t.Helper()
	dir, m := writeTestBundle(t, "acme/hello")

	kp, err := GenerateKeyPair("k1")
	require.NoError(t, err)
	_, priv, err := roundTripKeyPair(t, kp)
	require.NoError(t, err)

	store := trust.NewStore(t.TempDir())
	require.NoError(t, store.Upsert("acme", trust.Key{KeyID: kp.KeyID, Algorithm: kp.Algorithm, PublicKey: kp.PublicKey}))

	_, err = SignBundle(dir, "acme", kp, priv)
	require.NoError(t, err)
	return dir, m, store, kp
}

// roundTripKeyPair persists and reloads the pair so the private key comes
// back through the same path the CLI uses.
func roundTripKeyPair(t *testing.T, kp *KeyPair) (*KeyPair, ed25519.PrivateKey, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.json")
	data, err := json.Marshal(kp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	loaded, priv, err := LoadKeyPair(path)
	return loaded, priv, err
}

func TestVerifySignedBundle(t *testing.T) {
	dir, m, store, kp := signedBundle(t)

	result := Verify(m, dir, store)
	assert.Equal(t, StatusVerified, result.Status)
	assert.True(t, result.Verified())
	assert.Equal(t, "acme", result.Publisher)
	assert.Equal(t, kp.KeyID, result.KeyID)
	assert.NotEmpty(t, result.Digest)
}

func TestVerifyUnsignedBundle(t *testing.T) {
	dir, m := writeTestBundle(t, "acme/hello")
	result := Verify(m, dir, trust.NewStore(t.TempDir()))
	assert.Equal(t, StatusUnsigned, result.Status)
	assert.False(t, result.Verified())
}

func TestVerifyPublisherMismatch(t *testing.T) {
	dir, _, store, _ := signedBundle(t)

	// Same signed tree, claimed by a different publisher id.
	otherDir, other := writeTestBundle(t, "evil/hello")
	data, err := os.ReadFile(filepath.Join(dir, digest.SignatureFileName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, digest.SignatureFileName), data, 0o644))

	result := Verify(other, otherDir, store)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestVerifyUntrustedPublisher(t *testing.T) {
	dir, m, _, _ := signedBundle(t)
	result := Verify(m, dir, trust.NewStore(t.TempDir()))
	assert.Equal(t, StatusUntrusted, result.Status)
}

func TestVerifyUnknownKey(t *testing.T) {
	dir, m, _, _ := signedBundle(t)

	otherKP, err := GenerateKeyPair("other")
	require.NoError(t, err)
	store := trust.NewStore(t.TempDir())
	require.NoError(t, store.Upsert("acme", trust.Key{KeyID: "other", PublicKey: otherKP.PublicKey}))

	result := Verify(m, dir, store)
	assert.Equal(t, StatusUntrusted, result.Status)
}

func TestVerifyRevokedKey(t *testing.T) {
	dir, m, store, kp := signedBundle(t)
	require.NoError(t, store.Revoke("acme", kp.KeyID, "rotated"))

	result := Verify(m, dir, store)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestVerifyTamperedBundle(t *testing.T) {
	dir, m, store, _ := signedBundle(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "steps", "greet.sh"), []byte("#!/bin/sh\necho evil\n"), 0o755))

	result := Verify(m, dir, store)
	assert.Equal(t, StatusInvalid, result.Status)
}
